package modules

import (
	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/clustering"
	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/pipeline"
)

// Standard assembles the reconstruction chain for every registered detector:
// source, truth counting, then clustering and histogramming per detector, and
// a writer when sink is not nil. Modules are returned in declaration order.
func Standard(reg *geometry.Registry, settings *analysis.Settings, sink Sink, opts ...clustering.Option) ([]pipeline.Module, error) {
	dets := reg.Detectors()
	if len(dets) == 0 {
		return nil, ErrNoDetectors
	}
	mods := []pipeline.Module{NewSource(reg), NewTruth(settings)}
	for _, det := range dets {
		mods = append(mods, NewClustering(det, opts...), NewHistogrammer(det.Name(), settings))
	}
	if sink != nil {
		mods = append(mods, NewWriter(reg, sink))
	}
	return mods, nil
}
