// Package modules holds the concrete pipeline stages of a reconstruction run.
package modules

import (
	"context"
	"fmt"

	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/messenger"
	"github.com/okian/pixreco/internal/pipeline"
)

// Source publishes the transport event: the truth tracks once, then the
// particles, deposits and hits of every registered detector.
type Source struct {
	pipeline.Base
	registry *geometry.Registry
}

// NewSource returns the unbound input stage.
func NewSource(reg *geometry.Registry) *Source {
	return &Source{
		Base: pipeline.Base{
			ModuleName: "source",
			ProducedKinds: []messenger.Kind{
				messenger.KindMCTrack, messenger.KindMCParticle, messenger.KindDeposit, messenger.KindPixelHit,
			},
		},
		registry: reg,
	}
}

// Run publishes the event's records. Data for a detector that was never
// registered fails the event.
func (s *Source) Run(ctx context.Context, ev *pipeline.Event) error {
	in := ev.Input()
	for _, name := range in.DetectorNames() {
		if _, err := s.registry.Detector(name); err != nil {
			return err
		}
	}
	if err := ev.Publish(ctx, messenger.NewTracks(in.Tracks)); err != nil {
		return err
	}
	for _, det := range s.registry.Detectors() {
		data := in.Detector(det.Name())
		if data == nil {
			// a silent detector still publishes, so consumers run on empty input
			if err := ev.Publish(ctx, messenger.NewHits(det.Name(), nil)); err != nil {
				return err
			}
			continue
		}
		for _, msg := range []*messenger.Message{
			messenger.NewParticles(det.Name(), data.Particles),
			messenger.NewDeposits(det.Name(), data.Deposits),
			messenger.NewHits(det.Name(), data.Hits),
		} {
			if err := ev.Publish(ctx, msg); err != nil {
				return fmt.Errorf("detector %q: %w", det.Name(), err)
			}
		}
	}
	return nil
}
