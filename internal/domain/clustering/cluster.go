package clustering

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/domain/model"
)

// Cluster is a set of 8-connected pixel hits on one detector. Once returned
// by the engine it must be treated as read-only.
type Cluster struct {
	detector  string
	hits      []model.PixelHit
	seed      int
	charge    float64
	centroid  r3.Vec
	particles []model.ParticleRef
	min, max  geometry.Index
}

func newCluster(m *geometry.Model, detector string, hits []model.PixelHit) *Cluster {
	c := &Cluster{detector: detector, hits: hits}
	if len(hits) == 0 {
		return c
	}

	c.min, c.max = hits[0].Index, hits[0].Index
	var weighted, plain r3.Vec
	seen := make(map[model.ParticleRef]struct{})
	for i, h := range hits {
		pos := m.PixelPosition(h.Index)
		weighted = r3.Add(weighted, r3.Scale(h.Signal, pos))
		plain = r3.Add(plain, pos)
		c.charge += h.Signal

		// strict comparison keeps the earliest member on ties
		if h.Signal > hits[c.seed].Signal {
			c.seed = i
		}
		c.min.X, c.min.Y = min(c.min.X, h.Index.X), min(c.min.Y, h.Index.Y)
		c.max.X, c.max.Y = max(c.max.X, h.Index.X), max(c.max.Y, h.Index.Y)

		for _, ref := range h.Particles {
			if _, ok := seen[ref]; !ok {
				seen[ref] = struct{}{}
				c.particles = append(c.particles, ref)
			}
		}
	}
	if c.charge != 0 {
		c.centroid = divide(weighted, c.charge)
	} else {
		c.centroid = divide(plain, float64(len(hits)))
	}
	return c
}

// Detector returns the detector the cluster was found on.
func (c *Cluster) Detector() string { return c.detector }

// Hits returns the members in discovery order.
func (c *Cluster) Hits() []model.PixelHit { return c.hits }

// Size is the number of pixels.
func (c *Cluster) Size() int { return len(c.hits) }

// SizeX is the column extent.
func (c *Cluster) SizeX() int {
	if len(c.hits) == 0 {
		return 0
	}
	return c.max.X - c.min.X + 1
}

// SizeY is the row extent.
func (c *Cluster) SizeY() int {
	if len(c.hits) == 0 {
		return 0
	}
	return c.max.Y - c.min.Y + 1
}

// Charge is the summed signal.
func (c *Cluster) Charge() float64 { return c.charge }

// Centroid is the charge-weighted mean pixel position in the local frame.
// A cluster with zero total charge falls back to the unweighted mean.
func (c *Cluster) Centroid() r3.Vec { return c.centroid }

// Seed returns the member with the strictly largest signal.
func (c *Cluster) Seed() model.PixelHit {
	if len(c.hits) == 0 {
		return model.PixelHit{}
	}
	return c.hits[c.seed]
}

// Particles is the union of the members' truth references, in order of first
// appearance.
func (c *Cluster) Particles() []model.ParticleRef { return c.particles }

// Indices lists member pixel indices in discovery order.
func (c *Cluster) Indices() []geometry.Index {
	out := make([]geometry.Index, len(c.hits))
	for i, h := range c.hits {
		out[i] = h.Index
	}
	return out
}

func divide(v r3.Vec, d float64) r3.Vec {
	return r3.Vec{X: v.X / d, Y: v.Y / d, Z: v.Z / d}
}
