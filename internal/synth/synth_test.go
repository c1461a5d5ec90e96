package synth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/pixreco/internal/adapters/source"
	"github.com/okian/pixreco/internal/domain/clustering"
	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/domain/types"
	"github.com/okian/pixreco/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func testRegistry(t *testing.T) *geometry.Registry {
	t.Helper()
	m, err := geometry.NewModel("unit",
		geometry.WithPixelSize(1, 1),
		geometry.WithNPixels(16, 16),
		geometry.WithSensorThickness(0.3),
	)
	if err != nil {
		t.Fatal(err)
	}
	reg := geometry.NewRegistry()
	if err := reg.AddModel(m); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.AddDetector("dut0", "unit"); err != nil {
		t.Fatal(err)
	}
	reg.Freeze()
	return reg
}

func TestGenerator(t *testing.T) {
	convey.Convey("Given an empty registry", t, func() {
		reg := geometry.NewRegistry()
		reg.Freeze()

		convey.Convey("Then no generator can be built", func() {
			_, err := NewGenerator(reg)
			convey.So(errors.Is(err, ErrNoDetectors), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given two generators with the same seed", t, func() {
		reg := testRegistry(t)
		a, err := NewGenerator(reg, WithSeed(42))
		convey.So(err, convey.ShouldBeNil)
		b, err := NewGenerator(reg, WithSeed(42))
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then they produce identical events", func() {
			for range 20 {
				convey.So(cmp.Diff(a.Next(), b.Next()), convey.ShouldBeEmpty)
			}
		})

		convey.Convey("Then events are numbered and valid", func() {
			for i := 1; i <= 20; i++ {
				ev := a.Next()
				convey.So(ev.Number, convey.ShouldEqual, uint64(i))
				convey.So(ev.ID, convey.ShouldNotBeEmpty)
				convey.So(ev.Validate(), convey.ShouldBeNil)
				convey.So(ev.Tracks[0].PDG, convey.ShouldEqual, PDGNeutron)
				for _, h := range ev.Detector("dut0").Hits {
					convey.So(h.Index.X, convey.ShouldBeBetweenOrEqual, 0, 15)
					convey.So(h.Index.Y, convey.ShouldBeBetweenOrEqual, 0, 15)
					convey.So(h.Signal, convey.ShouldBeGreaterThan, 0)
				}
			}
		})
	})

	convey.Convey("Given a generator that always converts without noise", t, func() {
		reg := testRegistry(t)
		gen, err := NewGenerator(reg, WithConversionProbability(1), WithNoise(0), WithSeed(7))
		convey.So(err, convey.ShouldBeNil)
		det, err := reg.Detector("dut0")
		convey.So(err, convey.ShouldBeNil)
		engine := clustering.NewEngine(det.Model())

		convey.Convey("Then each event holds one cluster near the entry point", func() {
			for range 10 {
				data := gen.Next().Detector("dut0")
				convey.So(data.Particles, convey.ShouldHaveLength, 1)
				convey.So(data.Deposits, convey.ShouldHaveLength, depositsPerParticle)

				clusters := engine.Cluster("dut0", data.Hits)
				convey.So(clusters, convey.ShouldHaveLength, 1)
				c := clusters[0]
				start := data.Particles[0].LocalStart
				convey.So(math.Abs(c.Centroid().X-start.X), convey.ShouldBeLessThanOrEqualTo, 1)
				convey.So(math.Abs(c.Centroid().Y-start.Y), convey.ShouldBeLessThanOrEqualTo, 1)
				convey.So(c.Particles(), convey.ShouldResemble, []model.ParticleRef{0})
			}
		})
	})

	convey.Convey("Given a generator that only produces noise", t, func() {
		gen, err := NewGenerator(testRegistry(t), WithConversionProbability(0), WithNoise(3), WithSiCaptureProbability(0))
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then hits carry no truth", func() {
			ev := gen.Next()
			data := ev.Detector("dut0")
			convey.So(ev.Tracks, convey.ShouldHaveLength, 1)
			convey.So(data.Particles, convey.ShouldBeEmpty)
			convey.So(len(data.Hits), convey.ShouldBeBetweenOrEqual, 1, 3)
			for _, h := range data.Hits {
				convey.So(h.Particles, convey.ShouldBeEmpty)
				convey.So(h.Detector, convey.ShouldEqual, "dut0")
			}
		})
	})
}

func TestPoster(t *testing.T) {
	convey.Convey("Given a service that applies backpressure once", t, func() {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(types.Ack{Status: "accepted"})
		}))
		defer srv.Close()

		p := NewPoster(srv.URL, WithBackoff(time.Millisecond, 3))

		convey.Convey("Then the event is retried and accepted", func() {
			out, err := p.Post(context.Background(), &model.Event{ID: "e1"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldEqual, Accepted)
			convey.So(p.Retries(), convey.ShouldEqual, 1)
		})
	})

	convey.Convey("Given a service that has seen every event", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(types.Ack{Status: "accepted", Duplicate: true})
		}))
		defer srv.Close()

		convey.Convey("Then a stream of events is counted as duplicates", func() {
			events := make(chan *model.Event, 4)
			for _, id := range []string{"a", "b", "c", "d"} {
				events <- &model.Event{ID: id}
			}
			close(events)

			stats := &Stats{}
			NewPoster(srv.URL, WithWorkers(2)).Submit(context.Background(), events, stats)
			convey.So(stats.EventsSubmitted, convey.ShouldEqual, 4)
			convey.So(stats.EventsDuplicate, convey.ShouldEqual, 4)
			convey.So(stats.EventsAccepted, convey.ShouldEqual, 0)
		})
	})

	convey.Convey("Given a service that rejects events", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		convey.Convey("Then the post fails", func() {
			out, err := NewPoster(srv.URL).Post(context.Background(), &model.Event{ID: "e1"})
			convey.So(out, convey.ShouldEqual, Failed)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})

	convey.Convey("Given a finalized service", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(types.Health{Status: "finalized"})
		}))
		defer srv.Close()

		convey.Convey("Then the health check refuses to submit", func() {
			err := checkServiceHealth(context.Background(), srv.Client(), srv.URL)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestRun_OutputFile(t *testing.T) {
	convey.Convey("Given a run writing to a file", t, func() {
		path := filepath.Join(t.TempDir(), "out", "events.jsonl")
		cfg := &Config{NumEvents: 5, OutputFile: path, Seed: 3, ConversionProb: 0.5, NoiseHits: 1}

		stats, err := Run(context.Background(), cfg, testRegistry(t))
		convey.So(err, convey.ShouldBeNil)
		convey.So(stats.EventsGenerated, convey.ShouldEqual, 5)

		convey.Convey("Then the file replays as valid events", func() {
			r, err := source.Open(path)
			convey.So(err, convey.ShouldBeNil)
			defer func() { _ = r.Close() }()

			n := 0
			for {
				ev, err := r.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				convey.So(err, convey.ShouldBeNil)
				convey.So(ev.Detector("dut0"), convey.ShouldNotBeNil)
				n++
			}
			convey.So(n, convey.ShouldEqual, 5)
		})
	})
}
