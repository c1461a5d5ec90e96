// Package clustering groups the pixel hits of one detector into 8-connected
// clusters and derives their charge, centroid, seed and truth association.
package clustering

import (
	"cmp"
	"container/heap"
	"slices"

	"github.com/okian/pixreco/internal/domain/geometry"
	"github.com/okian/pixreco/internal/domain/model"
)

// DefaultTrimRadius is the Chebyshev radius around the seed kept by Trim.
const DefaultTrimRadius = 10

// Engine clusters hits for detectors sharing one geometry model. It holds no
// per-event state and is safe for concurrent use.
type Engine struct {
	model  *geometry.Model
	trim   bool
	radius int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTrim enables trimming in Reconstruct. A non-positive radius keeps
// DefaultTrimRadius.
func WithTrim(radius int) Option {
	return func(e *Engine) {
		e.trim = true
		if radius > 0 {
			e.radius = radius
		}
	}
}

// NewEngine returns an engine for the given model.
func NewEngine(m *geometry.Model, opts ...Option) *Engine {
	e := &Engine{model: m, radius: DefaultTrimRadius}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Radius returns the trim radius used by Reconstruct.
func (e *Engine) Radius() int { return e.radius }

// Cluster partitions hits into 8-connected components sorted by descending
// charge; equal charges keep discovery order.
//
// Seeds are taken in input order. A component grows by always attaching the
// earliest input hit that touches any current member, so the member order is
// independent of how the search is implemented.
func (e *Engine) Cluster(detector string, hits []model.PixelHit) []*Cluster {
	if len(hits) == 0 {
		return nil
	}

	byIndex := make(map[geometry.Index][]int, len(hits))
	for i, h := range hits {
		byIndex[h.Index] = append(byIndex[h.Index], i)
	}

	used := make([]bool, len(hits))
	var clusters []*Cluster
	frontier := &minHeap{}
	for s := range hits {
		if used[s] {
			continue
		}
		used[s] = true
		members := []model.PixelHit{hits[s]}
		e.push(frontier, byIndex, used, hits[s].Index)
		for frontier.Len() > 0 {
			i := heap.Pop(frontier).(int)
			members = append(members, hits[i])
			e.push(frontier, byIndex, used, hits[i].Index)
		}
		clusters = append(clusters, newCluster(e.model, detector, members))
	}

	sortByCharge(clusters)
	return clusters
}

func (e *Engine) push(h *minHeap, byIndex map[geometry.Index][]int, used []bool, at geometry.Index) {
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for _, j := range byIndex[geometry.Index{X: at.X + dx, Y: at.Y + dy}] {
				if !used[j] {
					used[j] = true
					heap.Push(h, j)
				}
			}
		}
	}
}

// FindSeed returns the member with the strictly largest signal; the earliest
// member wins a tie.
func FindSeed(c *Cluster) model.PixelHit {
	return c.Seed()
}

// Trim keeps the members within Chebyshev distance n of the seed and
// recomputes the derived attributes. Member order is preserved, so trimming
// an already compliant cluster returns the same member set.
func (e *Engine) Trim(c *Cluster, n int) *Cluster {
	if c.Size() == 0 {
		return c
	}
	seed := c.Seed().Index
	kept := make([]model.PixelHit, 0, len(c.hits))
	for _, h := range c.hits {
		if h.Index.Chebyshev(seed) <= n {
			kept = append(kept, h)
		}
	}
	if len(kept) == len(c.hits) {
		return c
	}
	return newCluster(e.model, c.detector, kept)
}

// Reconstruct clusters hits, trims every cluster when trimming is enabled and
// returns the result sorted by descending charge. The second value is the
// number of pixels removed by trimming.
func (e *Engine) Reconstruct(detector string, hits []model.PixelHit) ([]*Cluster, int) {
	clusters := e.Cluster(detector, hits)
	if !e.trim {
		return clusters, 0
	}
	dropped := 0
	for i, c := range clusters {
		t := e.Trim(c, e.radius)
		dropped += c.Size() - t.Size()
		clusters[i] = t
	}
	if dropped > 0 {
		sortByCharge(clusters)
	}
	return clusters, dropped
}

func sortByCharge(clusters []*Cluster) {
	slices.SortStableFunc(clusters, func(a, b *Cluster) int {
		return cmp.Compare(b.charge, a.charge)
	})
}

// minHeap orders frontier hits by input position.
type minHeap []int

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
