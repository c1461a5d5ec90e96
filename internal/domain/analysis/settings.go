// Package analysis turns reconstructed clusters into per-detector physics
// statistics: residual distributions, hit maps, cluster charge spectra and
// interaction counters.
//
// Per-event results are collected in a Tally, applied to a worker-confined
// Collection only when the event completes, and collections are merged once
// at finalization.
package analysis

import (
	"fmt"
	"slices"
)

// Policy selects how many truth particles of an interaction class a cluster
// may be associated with.
type Policy string

const (
	// PolicyFirst records at most one interaction per detector per event.
	PolicyFirst Policy = "first"
	// PolicyAll records every qualifying particle of every cluster.
	PolicyAll Policy = "all"
)

// Source tells where a particle class is counted from.
type Source string

const (
	// SourceCluster counts particles associated with reconstructed clusters.
	SourceCluster Source = "cluster"
	// SourceTrack counts the event's truth tracks.
	SourceTrack Source = "track"
)

// ParticleClass groups PDG codes under one counter.
type ParticleClass struct {
	Name        string `koanf:"name" json:"name"`
	PDG         []int  `koanf:"pdg" json:"pdg"`
	Source      Source `koanf:"source" json:"source"`
	Interaction bool   `koanf:"interaction" json:"interaction"`
}

// Settings configures the binning and the association rules.
type Settings struct {
	Association     Policy          `koanf:"association"`
	Residual        Axis            `koanf:"residual"`
	HitMap          Axis            `koanf:"hit_map"`
	Projection      Axis            `koanf:"projection"`
	Charge          Axis            `koanf:"charge"`
	MinSizeResidual int             `koanf:"min_size_residual"`
	MinSizeCharge   int             `koanf:"min_size_charge"`
	Classes         []ParticleClass `koanf:"classes"`
}

// PDG codes of the thermal-neutron capture products on boron-10 and silicon.
const (
	PDGLithium7  = 1000030070
	PDGAlpha     = 1000020040
	PDGSilicon29 = 1000140290
	PDGSilicon30 = 1000140300
	PDGProton    = 2212
)

// DefaultSettings describes a 256x256 sensor of 55 µm pitch behind a boron
// converter.
func DefaultSettings() Settings {
	return Settings{
		Association:     PolicyFirst,
		Residual:        Axis{Bins: 200, Min: -0.05, Max: 0.05},
		HitMap:          Axis{Bins: 500, Min: 0, Max: 2 * 7.04},
		Projection:      Axis{Bins: 2500, Min: 0, Max: 2 * 7.04},
		Charge:          Axis{Bins: 1000, Min: 0, Max: 5000},
		MinSizeResidual: 2,
		MinSizeCharge:   4,
		Classes: []ParticleClass{
			{Name: "lithium", PDG: []int{PDGLithium7}, Source: SourceCluster, Interaction: true},
			{Name: "alpha", PDG: []int{PDGAlpha}, Source: SourceCluster, Interaction: true},
			{Name: "si_capture", PDG: []int{PDGSilicon29, PDGSilicon30}, Source: SourceTrack},
		},
	}
}

// Validate checks binning, cuts and class definitions.
func (s *Settings) Validate() error {
	switch s.Association {
	case PolicyFirst, PolicyAll:
	default:
		return fmt.Errorf("%w: association policy %q", ErrSettings, s.Association)
	}
	for name, a := range map[string]Axis{
		"residual": s.Residual, "hit_map": s.HitMap, "projection": s.Projection, "charge": s.Charge,
	} {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSettings, name, err)
		}
	}
	if s.MinSizeResidual < 1 || s.MinSizeCharge < 1 {
		return fmt.Errorf("%w: cluster size cuts must be at least 1", ErrSettings)
	}
	names := make(map[string]bool, len(s.Classes))
	for _, c := range s.Classes {
		if c.Name == "" || len(c.PDG) == 0 {
			return fmt.Errorf("%w: particle class needs a name and PDG codes", ErrSettings)
		}
		if names[c.Name] {
			return fmt.Errorf("%w: duplicate particle class %q", ErrSettings, c.Name)
		}
		names[c.Name] = true
		if c.Source != SourceCluster && c.Source != SourceTrack {
			return fmt.Errorf("%w: class %q: source %q", ErrSettings, c.Name, c.Source)
		}
		if c.Interaction && c.Source != SourceCluster {
			return fmt.Errorf("%w: class %q: interactions are counted from clusters", ErrSettings, c.Name)
		}
	}
	return nil
}

func (s *Settings) classOf(pdg int, src Source) *ParticleClass {
	for i := range s.Classes {
		c := &s.Classes[i]
		if c.Source == src && slices.Contains(c.PDG, pdg) {
			return c
		}
	}
	return nil
}

// ClassNames returns the configured class names in declaration order.
func (s *Settings) ClassNames() []string {
	out := make([]string, len(s.Classes))
	for i, c := range s.Classes {
		out[i] = c.Name
	}
	return out
}
