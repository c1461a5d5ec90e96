package modules

import (
	"context"
	"fmt"

	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/domain/model"
	"github.com/okian/pixreco/internal/messenger"
	"github.com/okian/pixreco/internal/pipeline"
	"github.com/okian/pixreco/pkg/logger"
)

// Sink stores cluster rows. Implementations must be safe for concurrent use.
type Sink interface {
	AppendClusters(ctx context.Context, rows []model.ClusterRecord) error
	Flush(ctx context.Context) error
}

// Writer turns every detector's clusters into n-tuple rows.
type Writer struct {
	pipeline.Base
	registry *geometry.Registry
	sink     Sink
	log      logger.Logger
}

// NewWriter returns the unbound persistence stage.
func NewWriter(reg *geometry.Registry, sink Sink) *Writer {
	return &Writer{
		Base: pipeline.Base{
			ModuleName:    "writer",
			ConsumedKinds: []messenger.Kind{messenger.KindCluster},
		},
		registry: reg,
		sink:     sink,
		log:      logger.Get().Named("writer"),
	}
}

// Run converts and appends the event's clusters.
func (w *Writer) Run(ctx context.Context, ev *pipeline.Event) error {
	in := ev.Input()
	var rows []model.ClusterRecord
	for _, msg := range ev.Received(messenger.KindCluster) {
		det, err := w.registry.Detector(msg.Detector)
		if err != nil {
			return err
		}
		for i, c := range msg.Clusters {
			seed := c.Seed()
			row := model.ClusterRecord{
				EventID:  in.ID,
				Event:    in.Number,
				Detector: det.Name(),
				Ordinal:  i,
				Size:     c.Size(),
				SizeX:    c.SizeX(),
				SizeY:    c.SizeY(),
				Charge:   c.Charge(),
				Local:    model.PointOf(c.Centroid()),
				Global:   model.PointOf(det.ToGlobal(c.Centroid())),
				Seed:     seed.Index,
			}
			for _, ref := range c.Particles() {
				row.Particles = append(row.Particles, int(ref))
			}
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := w.sink.AppendClusters(ctx, rows); err != nil {
		return fmt.Errorf("append clusters: %w", err)
	}
	return nil
}

// Finalize flushes buffered rows.
func (w *Writer) Finalize(ctx context.Context) error {
	if err := w.sink.Flush(ctx); err != nil {
		w.log.Error(ctx, "flush failed", logger.Error(err))
		return err
	}
	return nil
}
