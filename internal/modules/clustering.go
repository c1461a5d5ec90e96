package modules

import (
	"context"
	"fmt"

	"github.com/okian/pixreco/internal/domain/clustering"
	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/messenger"
	"github.com/okian/pixreco/internal/pipeline"
	"github.com/okian/pixreco/pkg/metrics"
)

// Clustering reconstructs the clusters of one detector.
type Clustering struct {
	pipeline.Base
	detector *geometry.Detector
	engine   *clustering.Engine
}

// NewClustering binds a clustering stage to det.
func NewClustering(det *geometry.Detector, opts ...clustering.Option) *Clustering {
	return &Clustering{
		Base: pipeline.Base{
			ModuleName:    "clustering:" + det.Name(),
			DetectorName:  det.Name(),
			ConsumedKinds: []messenger.Kind{messenger.KindPixelHit},
			ProducedKinds: []messenger.Kind{messenger.KindCluster},
		},
		detector: det,
		engine:   clustering.NewEngine(det.Model(), opts...),
	}
}

// Run clusters every hit delivered for the detector and publishes the result,
// possibly empty.
func (c *Clustering) Run(ctx context.Context, ev *pipeline.Event) error {
	var hits []model.PixelHit
	for _, msg := range ev.Received(messenger.KindPixelHit) {
		for _, h := range msg.Hits {
			if h.Detector != "" && h.Detector != c.detector.Name() {
				continue
			}
			if !c.detector.Model().IsWithinGrid(h.Index) {
				return fmt.Errorf("%w: %s on %q", ErrOutOfGrid, h.Index, c.detector.Name())
			}
			hits = append(hits, h)
		}
	}

	clusters, trimmed := c.engine.Reconstruct(c.detector.Name(), hits)

	metrics.RecordHitsPerEvent(len(hits))
	metrics.RecordClusters(c.detector.Name(), len(clusters))
	metrics.RecordTrimmedPixels(c.detector.Name(), trimmed)
	for _, cl := range clusters {
		metrics.RecordClusterSize(cl.Size())
	}
	return ev.Publish(ctx, messenger.NewClusters(c.detector.Name(), clusters))
}
