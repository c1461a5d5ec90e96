// Package model contains the per-event records handed from the transport and
// digitization stages to reconstruction.
package model

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/okian/pixreco/internal/domain/geometry"
)

// ErrInvalidEvent reports an event that cannot enter the pipeline.
var ErrInvalidEvent = errors.New("invalid event")

// MCTrack is a truth trajectory from the transport engine. Positions are global.
type MCTrack struct {
	ID                 int     `json:"id"`
	ParentID           int     `json:"parent_id"`
	PDG                int     `json:"pdg"`
	Start              Point   `json:"start"`
	End                Point   `json:"end"`
	KineticEnergyStart float64 `json:"ke_start"`
	KineticEnergyEnd   float64 `json:"ke_end"`
	Process            string  `json:"process,omitempty"`
}

// MCParticle is the passage of one truth particle through one sensor.
// Positions are in the detector's local frame.
type MCParticle struct {
	PDG        int   `json:"pdg"`
	Track      int   `json:"track"`
	LocalStart Point `json:"local_start"`
	LocalEnd   Point `json:"local_end"`
}

// Deposit is an energy deposit inside a sensor, in the local frame.
type Deposit struct {
	Position Point   `json:"position"`
	Charge   float64 `json:"charge"`
	Time     float64 `json:"time"`
	Particle int     `json:"particle"`
}

// ParticleRef is an index into the owning detector's particle table.
type ParticleRef int

// PixelHit is a digitized pixel with the truth particles that contributed to it.
type PixelHit struct {
	Detector  string         `json:"detector"`
	Index     geometry.Index `json:"index"`
	Signal    float64        `json:"signal"`
	Time      float64        `json:"time,omitempty"`
	Particles []ParticleRef  `json:"particles,omitempty"`
}

// DetectorData is everything recorded for one detector in one event.
type DetectorData struct {
	Particles []MCParticle `json:"particles,omitempty"`
	Deposits  []Deposit    `json:"deposits,omitempty"`
	Hits      []PixelHit   `json:"hits,omitempty"`
}

// Particle resolves a reference against the particle table.
func (d *DetectorData) Particle(ref ParticleRef) (MCParticle, bool) {
	if d == nil || ref < 0 || int(ref) >= len(d.Particles) {
		return MCParticle{}, false
	}
	return d.Particles[ref], true
}

// Event is one simulated event as delivered by the transport engine.
type Event struct {
	ID        string                   `json:"id"`
	Number    uint64                   `json:"number"`
	Tracks    []MCTrack                `json:"tracks,omitempty"`
	Detectors map[string]*DetectorData `json:"detectors"`

	// Received is stamped at ingest and never serialized.
	Received time.Time `json:"-"`
}

// DetectorNames returns the detectors present in the event, sorted.
func (e *Event) DetectorNames() []string {
	names := make([]string, 0, len(e.Detectors))
	for name := range e.Detectors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Detector returns the data for one detector, or nil.
func (e *Event) Detector(name string) *DetectorData {
	return e.Detectors[name]
}

// Validate checks the references inside the event. It fills a missing ID from
// the event number.
func (e *Event) Validate() error {
	if e.ID == "" {
		e.ID = fmt.Sprintf("event-%d", e.Number)
	}
	for name, d := range e.Detectors {
		if d == nil {
			return fmt.Errorf("%w: %s: detector %q has no data", ErrInvalidEvent, e.ID, name)
		}
		for i := range d.Hits {
			h := &d.Hits[i]
			if h.Detector == "" {
				h.Detector = name
			} else if h.Detector != name {
				return fmt.Errorf("%w: %s: hit %d belongs to %q but is listed under %q",
					ErrInvalidEvent, e.ID, i, h.Detector, name)
			}
			for _, ref := range h.Particles {
				if _, ok := d.Particle(ref); !ok {
					return fmt.Errorf("%w: %s: hit %d references particle %d of %d",
						ErrInvalidEvent, e.ID, i, ref, len(d.Particles))
				}
			}
		}
	}
	return nil
}

// ClusterRecord is the persisted n-tuple row of one reconstructed cluster.
type ClusterRecord struct {
	EventID   string         `json:"event_id"`
	Event     uint64         `json:"event"`
	Detector  string         `json:"detector"`
	Ordinal   int            `json:"ordinal"`
	Size      int            `json:"size"`
	SizeX     int            `json:"size_x"`
	SizeY     int            `json:"size_y"`
	Charge    float64        `json:"charge"`
	Local     Point          `json:"local"`
	Global    Point          `json:"global"`
	Seed      geometry.Index `json:"seed"`
	Particles []int          `json:"particles,omitempty"`
}
