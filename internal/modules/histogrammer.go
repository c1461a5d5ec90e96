package modules

import (
	"context"

	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/clustering"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/messenger"
	"github.com/okian/pixreco/internal/pipeline"
	"github.com/okian/pixreco/pkg/metrics"
)

// Histogrammer matches one detector's clusters with its truth particles and
// records the outcome in the event's statistics.
type Histogrammer struct {
	pipeline.Base
	settings *analysis.Settings
}

// NewHistogrammer binds a histogramming stage to a detector.
func NewHistogrammer(detector string, settings *analysis.Settings) *Histogrammer {
	return &Histogrammer{
		Base: pipeline.Base{
			ModuleName:    "histogrammer:" + detector,
			DetectorName:  detector,
			ConsumedKinds: []messenger.Kind{messenger.KindMCParticle, messenger.KindCluster},
		},
		settings: settings,
	}
}

// Run analyses the detector's clusters.
func (h *Histogrammer) Run(_ context.Context, ev *pipeline.Event) error {
	data := &model.DetectorData{}
	for _, msg := range ev.Received(messenger.KindMCParticle) {
		data.Particles = append(data.Particles, msg.Particles...)
	}
	var clusters []*clustering.Cluster
	for _, msg := range ev.Received(messenger.KindCluster) {
		clusters = append(clusters, msg.Clusters...)
	}

	res := h.settings.Analyze(h.Detector(), data, clusters)
	for range res.Conversions {
		metrics.RecordConversion(h.Detector())
	}
	ev.Stats().Record(res)
	return nil
}

// Truth counts the event's truth tracks into track-sourced particle classes.
type Truth struct {
	pipeline.Base
	settings *analysis.Settings
}

// NewTruth returns the unbound track-counting stage.
func NewTruth(settings *analysis.Settings) *Truth {
	return &Truth{
		Base: pipeline.Base{
			ModuleName:    "truth",
			ConsumedKinds: []messenger.Kind{messenger.KindMCTrack},
		},
		settings: settings,
	}
}

// Run counts the tracks.
func (t *Truth) Run(_ context.Context, ev *pipeline.Event) error {
	for _, msg := range ev.Received(messenger.KindMCTrack) {
		ev.Stats().CountTracks(t.settings, msg.Tracks)
	}
	return nil
}
