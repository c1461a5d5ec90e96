package analysis

import (
	"errors"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pixreco/internal/domain/clustering"
	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/domain/model"
)

func TestHist1D(t *testing.T) {
	Convey("Given a ten-bin histogram over [0, 10)", t, func() {
		h := NewHist1D("h", "test", Axis{Bins: 10, Min: 0, Max: 10})

		Convey("When filling inside and outside the range", func() {
			h.Fill(-1)
			h.Fill(0)
			h.Fill(9.999)
			h.Fill(10)
			h.FillW(4.5, 2)

			Convey("Then out-of-range entries land in under- and overflow", func() {
				So(h.Entries, ShouldEqual, 5)
				So(h.Underflow, ShouldEqual, 1.0)
				So(h.Overflow, ShouldEqual, 1.0)
				So(h.Counts[0], ShouldEqual, 1.0)
				So(h.Counts[9], ShouldEqual, 1.0)
				So(h.Counts[4], ShouldEqual, 2.0)
				So(h.Integral(), ShouldEqual, 4.0)
			})
		})

		Convey("When two symmetric entries are filled", func() {
			h.Fill(2.5)
			h.Fill(6.5)
			mean, std := h.MeanStdDev()

			Convey("Then the summary uses bin centres", func() {
				So(mean, ShouldAlmostEqual, 4.5, 1e-12)
				So(std, ShouldAlmostEqual, 2, 1e-12)
			})
		})

		Convey("When entries sit at the centres of a symmetric axis", func() {
			r := NewHist1D("r", "residual", Axis{Bins: 2, Min: -1, Max: 1})
			r.Fill(-0.5)
			r.Fill(0.5)
			mean, std := r.MeanStdDev()

			Convey("Then the RMS is normalised by the number of entries", func() {
				So(mean, ShouldAlmostEqual, 0, 1e-12)
				So(std, ShouldAlmostEqual, 0.5, 1e-12)
			})
		})

		Convey("When empty or holding one entry", func() {
			mean, std := h.MeanStdDev()
			So(mean, ShouldEqual, 0.0)
			So(std, ShouldEqual, 0.0)
			h.Fill(3.2)
			mean, std = h.MeanStdDev()
			So(mean, ShouldAlmostEqual, 3.5, 1e-12)
			So(std, ShouldEqual, 0.0)
		})

		Convey("When merging histograms", func() {
			o := NewHist1D("h", "test", Axis{Bins: 10, Min: 0, Max: 10})
			o.Fill(1)
			h.Fill(1)
			So(h.Merge(o), ShouldBeNil)
			So(h.Counts[1], ShouldEqual, 2.0)
			So(h.Entries, ShouldEqual, 2)

			bad := NewHist1D("h", "test", Axis{Bins: 5, Min: 0, Max: 10})
			So(errors.Is(h.Merge(bad), ErrBinning), ShouldBeTrue)
		})
	})
}

func TestHist2D(t *testing.T) {
	a := Axis{Bins: 4, Min: 0, Max: 4}
	h := NewHist2D("m", "map", a, a)
	h.Fill(1.5, 2.5)
	h.Fill(5, 1)
	if h.At(1, 2) != 1 || h.Outside != 1 || h.Entries != 2 {
		t.Fatalf("unexpected content: at=%v outside=%v entries=%d", h.At(1, 2), h.Outside, h.Entries)
	}
	o := NewHist2D("m", "map", a, Axis{Bins: 2, Min: 0, Max: 4})
	if err := h.Merge(o); !errors.Is(err, ErrBinning) {
		t.Fatalf("merge with different binning: %v", err)
	}
}

func TestSettingsValidate(t *testing.T) {
	Convey("Given the default settings", t, func() {
		s := DefaultSettings()
		So(s.Validate(), ShouldBeNil)
		So(s.ClassNames(), ShouldResemble, []string{"lithium", "alpha", "si_capture"})

		Convey("Then broken settings are rejected", func() {
			bad := DefaultSettings()
			bad.Association = "some"
			So(errors.Is(bad.Validate(), ErrSettings), ShouldBeTrue)

			bad = DefaultSettings()
			bad.Residual.Bins = 0
			So(errors.Is(bad.Validate(), ErrBinning), ShouldBeTrue)

			bad = DefaultSettings()
			bad.Classes = append(bad.Classes, ParticleClass{Name: "alpha", PDG: []int{1}, Source: SourceCluster})
			So(errors.Is(bad.Validate(), ErrSettings), ShouldBeTrue)

			bad = DefaultSettings()
			bad.Classes[2].Interaction = true
			So(errors.Is(bad.Validate(), ErrSettings), ShouldBeTrue)
		})
	})
}

type fixture struct {
	data     *model.DetectorData
	clusters []*clustering.Cluster
}

// twoConversions builds a detector with a lithium+alpha cluster of size 4 and
// an alpha-only cluster of size 1.
func twoConversions(t *testing.T) fixture {
	t.Helper()
	m, err := geometry.NewModel("t", geometry.WithPixelSize(0.055, 0.055), geometry.WithNPixels(256, 256))
	if err != nil {
		t.Fatal(err)
	}
	data := &model.DetectorData{Particles: []model.MCParticle{
		{PDG: PDGLithium7, LocalStart: model.Point{X: 0.06, Y: 0.06}},
		{PDG: PDGAlpha, LocalStart: model.Point{X: 0.06, Y: 0.06}},
		{PDG: PDGAlpha, LocalStart: model.Point{X: 5.5, Y: 5.5}},
		{PDG: 22},
	}}
	hits := []model.PixelHit{
		{Index: geometry.Index{X: 1, Y: 1}, Signal: 40, Particles: []model.ParticleRef{0, 1}},
		{Index: geometry.Index{X: 2, Y: 1}, Signal: 20, Particles: []model.ParticleRef{0}},
		{Index: geometry.Index{X: 1, Y: 2}, Signal: 20},
		{Index: geometry.Index{X: 2, Y: 2}, Signal: 20, Particles: []model.ParticleRef{3}},
		{Index: geometry.Index{X: 100, Y: 100}, Signal: 5, Particles: []model.ParticleRef{2}},
	}
	return fixture{data: data, clusters: clustering.NewEngine(m).Cluster("dut0", hits)}
}

func TestAnalyzeFirstPolicy(t *testing.T) {
	Convey("Given two clusters carrying interaction products", t, func() {
		s := DefaultSettings()
		f := twoConversions(t)

		Convey("When analysed with the first-match policy", func() {
			r := s.Analyze("dut0", f.data, f.clusters)

			Convey("Then only the leading cluster records a conversion", func() {
				So(len(r.Shapes), ShouldEqual, 2)
				So(len(r.Conversions), ShouldEqual, 1)
				c := r.Conversions[0]
				So(c.HasResidual, ShouldBeTrue)
				So(c.HasCharge, ShouldBeTrue)
				So(c.Charge, ShouldEqual, 100.0)
				// centroid x = (40*0.055 + 20*0.11 + 20*0.055 + 20*0.11) / 100 = 0.077
				So(c.ResidualX, ShouldAlmostEqual, 0.077-0.06, 1e-9)
			})

			Convey("Then each cluster stops after its first counted particle", func() {
				So(r.Classes["lithium"], ShouldEqual, 1)
				So(r.Classes["alpha"], ShouldEqual, 1)
			})
		})

		Convey("When analysed with the all policy", func() {
			s.Association = PolicyAll
			r := s.Analyze("dut0", f.data, f.clusters)

			Convey("Then every qualifying particle is recorded", func() {
				So(len(r.Conversions), ShouldEqual, 3)
				So(r.Classes["lithium"], ShouldEqual, 1)
				So(r.Classes["alpha"], ShouldEqual, 2)
				last := r.Conversions[2]
				So(last.HasResidual, ShouldBeFalse)
				So(last.HasCharge, ShouldBeFalse)
			})
		})

		Convey("When the detector has no clusters", func() {
			r := s.Analyze("dut0", f.data, nil)
			So(r.Conversions, ShouldBeEmpty)
			So(r.Shapes, ShouldBeEmpty)
		})
	})
}

func TestCollectionLifecycle(t *testing.T) {
	Convey("Given per-worker collections", t, func() {
		s := DefaultSettings()
		f := twoConversions(t)
		workers := []*Collection{NewCollection(&s), NewCollection(&s)}

		for i, w := range workers {
			tally := NewTally()
			tally.CountTracks(&s, []model.MCTrack{{PDG: PDGSilicon29}, {PDG: PDGAlpha}})
			tally.Record(s.Analyze("dut0", f.data, f.clusters))
			w.Apply(tally)
			if i == 1 {
				w.Skip()
			}
		}

		Convey("When merged through an aggregator from many goroutines", func() {
			agg := NewAggregator(&s)
			var wg sync.WaitGroup
			for _, w := range workers {
				wg.Add(1)
				go func(c *Collection) {
					defer wg.Done()
					So(agg.Add(c), ShouldBeNil)
				}(w)
			}
			wg.Wait()
			total := agg.Total()

			Convey("Then the totals add up", func() {
				So(total.Events(), ShouldEqual, 2)
				So(total.Skipped(), ShouldEqual, 1)
				b, err := total.Book("dut0")
				So(err, ShouldBeNil)
				So(b.Conversions, ShouldEqual, 2)
				So(b.Clusters, ShouldEqual, 4)
				So(b.ClusterCharge.Entries, ShouldEqual, 2)
				So(b.HitMap.Entries, ShouldEqual, 2)
				So(b.ClusterSize.Entries, ShouldEqual, 4)
			})

			Convey("Then the summary reports efficiency and track classes", func() {
				sum := total.Summary()
				So(sum.Events, ShouldEqual, 2)
				So(sum.Skipped, ShouldEqual, 1)
				So(sum.Tracks["si_capture"], ShouldEqual, 2)
				So(len(sum.Detectors), ShouldEqual, 1)
				So(sum.Detectors[0].Efficiency, ShouldAlmostEqual, 100.0, 1e-9)
				So(sum.Detectors[0].Classes["alpha"], ShouldEqual, 2)
			})

			Convey("Then unknown detectors are reported", func() {
				_, err := total.Book("nope")
				So(errors.Is(err, ErrUnknownDetector), ShouldBeTrue)
			})
		})
	})
}
