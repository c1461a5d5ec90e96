package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/pixreco/internal/app"
	"github.com/okian/pixreco/internal/config"
	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// testConfig describes one 16x16 sensor of 1 mm pitch without plots or
// storage.
func testConfig() *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.EventQueueSize = 64
	cfg.OutputDir = ""
	cfg.Models = map[string]config.ModelConfig{
		"unit": {PixelSize: config.Vec2{X: 1, Y: 1}, Pixels: config.Grid{Columns: 16, Rows: 16}},
	}
	cfg.Detectors = []config.DetectorConfig{{Name: "dut0", Model: "unit"}}
	return cfg
}

func hit(x, y int, signal float64, refs ...model.ParticleRef) model.PixelHit {
	return model.PixelHit{Index: geometry.Index{X: x, Y: y}, Signal: signal, Particles: refs}
}

// conversionEvent carries a two-pixel lithium cluster and a noise pixel.
func conversionEvent(id string, n uint64) *model.Event {
	return &model.Event{
		ID:     id,
		Number: n,
		Tracks: []model.MCTrack{{ID: 1, PDG: analysis.PDGSilicon29}},
		Detectors: map[string]*model.DetectorData{
			"dut0": {
				Particles: []model.MCParticle{{PDG: analysis.PDGLithium7, LocalStart: model.Point{X: 1.24, Y: 1}}},
				Hits:      []model.PixelHit{hit(1, 1, 30, 0), hit(2, 1, 10, 0), hit(9, 9, 5)},
			},
		},
	}
}

// ghostEvent names a detector that is not configured.
func ghostEvent(id string) *model.Event {
	return &model.Event{ID: id, Detectors: map[string]*model.DetectorData{"ghost": {}}}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New(nil)

		Convey("Then it should have a generated run id", func() {
			So(svc, ShouldNotBeNil)
			So(svc.RunID(), ShouldNotBeEmpty)
			So(svc.GetStats()["started"], ShouldEqual, false)
			So(svc.Health(context.Background()).Status, ShouldEqual, "starting")
		})
	})

	Convey("Given a new service with a fixed run id", t, func() {
		svc := service.New(testConfig(), service.WithRunID("run-1"))

		Convey("Then it should keep the id", func() {
			So(svc.RunID(), ShouldEqual, "run-1")
			So(svc.GetStats()["runId"], ShouldEqual, "run-1")
		})
	})
}

func TestService_Start(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(testConfig())
		// Ensure service is stopped after test
		defer svc.Stop()

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := svc.Start(ctx)

			Convey("Then it should start successfully", func() {
				So(err, ShouldBeNil)
			})

			Convey("And it should report the module chain", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["detectors"], ShouldEqual, 1)
				So(stats["modules"], ShouldResemble, []string{"source", "truth", "clustering:dut0", "histogrammer:dut0"})
				So(svc.Health(ctx).Status, ShouldEqual, "ok")
			})

			Convey("And starting again is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})
	})

	Convey("Given a configuration error", t, func() {
		cfg := testConfig()
		cfg.Detectors = append(cfg.Detectors, config.DetectorConfig{Name: "dut1", Model: "missing"})
		svc := service.New(cfg)

		Convey("When starting the service", func() {
			err := svc.Start(context.Background())

			Convey("Then setup is aborted", func() {
				So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})

	Convey("Given an unreachable database path", t, func() {
		cfg := testConfig()
		cfg.DatabasePath = t.TempDir() + "/missing/dir/run.db"
		svc := service.New(cfg)

		Convey("When starting the service", func() {
			err := svc.Start(context.Background())

			Convey("Then setup fails", func() {
				So(errors.Is(err, service.ErrSetup), ShouldBeTrue)
			})
		})
	})
}

func TestService_NotStarted(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New(testConfig())
		ctx := context.Background()

		Convey("Then submissions and finalization are refused", func() {
			So(errors.Is(svc.Submit(ctx, conversionEvent("e1", 1)), service.ErrNotStarted), ShouldBeTrue)
			_, err := svc.Finalize(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.Replay(ctx, "events.jsonl")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, ok := svc.Report()
			So(ok, ShouldBeFalse)
		})

		Convey("Then stopping is harmless", func() {
			So(func() { svc.Stop() }, ShouldNotPanic)
		})
	})
}

func TestService_Stop(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(testConfig())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := svc.Start(ctx)
		So(err, ShouldBeNil)

		Convey("When stopping the service", func() {
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, false)
				So(errors.Is(svc.Submit(ctx, conversionEvent("e1", 1)), service.ErrNotStarted), ShouldBeTrue)
			})
		})
	})
}

func TestService_Dedupe(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(testConfig())
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When the same id is recorded twice", func() {
			first := svc.SeenAndRecord(ctx, "e1")
			second := svc.SeenAndRecord(ctx, "e1")

			Convey("Then only the second is a duplicate", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(svc.Size(), ShouldEqual, 1)
			})

			Convey("And an unrecorded id can be submitted again", func() {
				svc.Unrecord(ctx, "e1")
				So(svc.SeenAndRecord(ctx, "e1"), ShouldBeFalse)
			})
		})
	})
}
