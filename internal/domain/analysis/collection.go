package analysis

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Book holds the histograms and counters of one detector.
type Book struct {
	Detector         string
	ResidualX        *Hist1D
	ResidualY        *Hist1D
	HitMap           *Hist2D
	HitMapX          *Hist1D
	ClusterCharge    *Hist1D
	ClusterSize      *Hist1D
	ClusterSizeX     *Hist1D
	ClusterSizeY     *Hist1D
	ClustersPerEvent *Hist1D

	Events      uint64
	Clusters    uint64
	Conversions uint64
	Classes     map[string]uint64
}

var sizeAxis = Axis{Bins: 100, Min: 0, Max: 100}

func newBook(detector string, s *Settings) *Book {
	return &Book{
		Detector:         detector,
		ResidualX:        NewHist1D("residual_x", "Residual X", s.Residual),
		ResidualY:        NewHist1D("residual_y", "Residual Y", s.Residual),
		HitMap:           NewHist2D("hit_map", "Cluster position", s.HitMap, s.HitMap),
		HitMapX:          NewHist1D("hit_map_x", "Cluster position in X", s.Projection),
		ClusterCharge:    NewHist1D("cluster_charge", "Cluster charge", s.Charge),
		ClusterSize:      NewHist1D("cluster_size", "Cluster size", sizeAxis),
		ClusterSizeX:     NewHist1D("cluster_size_x", "Cluster size in X", sizeAxis),
		ClusterSizeY:     NewHist1D("cluster_size_y", "Cluster size in Y", sizeAxis),
		ClustersPerEvent: NewHist1D("clusters_per_event", "Clusters per event", sizeAxis),
		Classes:          make(map[string]uint64),
	}
}

func (b *Book) apply(r DetectorResult) {
	b.Events++
	b.Clusters += uint64(len(r.Shapes))
	b.ClustersPerEvent.Fill(float64(len(r.Shapes)))
	for _, sh := range r.Shapes {
		b.ClusterSize.Fill(float64(sh.Size))
		b.ClusterSizeX.Fill(float64(sh.SizeX))
		b.ClusterSizeY.Fill(float64(sh.SizeY))
	}
	for _, c := range r.Conversions {
		b.Conversions++
		if c.HasResidual {
			b.ResidualX.Fill(c.ResidualX)
			b.ResidualY.Fill(c.ResidualY)
		}
		if c.HasCharge {
			b.ClusterCharge.Fill(c.Charge)
		}
		b.HitMap.Fill(c.X, c.Y)
		b.HitMapX.Fill(c.X)
	}
	for k, v := range r.Classes {
		b.Classes[k] += v
	}
}

func (b *Book) merge(o *Book) error {
	for _, pair := range [][2]*Hist1D{
		{b.ResidualX, o.ResidualX}, {b.ResidualY, o.ResidualY}, {b.HitMapX, o.HitMapX},
		{b.ClusterCharge, o.ClusterCharge}, {b.ClusterSize, o.ClusterSize},
		{b.ClusterSizeX, o.ClusterSizeX}, {b.ClusterSizeY, o.ClusterSizeY},
		{b.ClustersPerEvent, o.ClustersPerEvent},
	} {
		if err := pair[0].Merge(pair[1]); err != nil {
			return fmt.Errorf("detector %q: %w", b.Detector, err)
		}
	}
	if err := b.HitMap.Merge(o.HitMap); err != nil {
		return fmt.Errorf("detector %q: %w", b.Detector, err)
	}
	b.Events += o.Events
	b.Clusters += o.Clusters
	b.Conversions += o.Conversions
	for k, v := range o.Classes {
		b.Classes[k] += v
	}
	return nil
}

// Histograms1D lists the one-dimensional histograms in a fixed order.
func (b *Book) Histograms1D() []*Hist1D {
	return []*Hist1D{
		b.ResidualX, b.ResidualY, b.HitMapX, b.ClusterCharge,
		b.ClusterSize, b.ClusterSizeX, b.ClusterSizeY, b.ClustersPerEvent,
	}
}

// Collection accumulates statistics over many events. A collection is owned
// by one worker; use Merge or an Aggregator to combine them.
type Collection struct {
	settings *Settings
	books    map[string]*Book
	tracks   map[string]uint64
	events   uint64
	skipped  uint64
}

// NewCollection returns an empty collection for the given settings.
func NewCollection(s *Settings) *Collection {
	return &Collection{settings: s, books: make(map[string]*Book), tracks: make(map[string]uint64)}
}

// Settings returns the settings the collection was booked with.
func (c *Collection) Settings() *Settings { return c.settings }

// Apply folds a completed event into the collection.
func (c *Collection) Apply(t *Tally) {
	c.events++
	for _, r := range t.detectors {
		c.book(r.Detector).apply(r)
	}
	for k, v := range t.tracks {
		c.tracks[k] += v
	}
}

// Skip counts an event that failed and contributed nothing.
func (c *Collection) Skip() { c.skipped++ }

func (c *Collection) book(detector string) *Book {
	b, ok := c.books[detector]
	if !ok {
		b = newBook(detector, c.settings)
		c.books[detector] = b
	}
	return b
}

// Book returns the statistics of one detector.
func (c *Collection) Book(detector string) (*Book, error) {
	b, ok := c.books[detector]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDetector, detector)
	}
	return b, nil
}

// Detectors lists the booked detectors, sorted.
func (c *Collection) Detectors() []string {
	return slices.Sorted(maps.Keys(c.books))
}

// Events is the number of completed events.
func (c *Collection) Events() uint64 { return c.events }

// Skipped is the number of failed events.
func (c *Collection) Skipped() uint64 { return c.skipped }

// Merge adds o into c.
func (c *Collection) Merge(o *Collection) error {
	for _, name := range o.Detectors() {
		if err := c.book(name).merge(o.books[name]); err != nil {
			return err
		}
	}
	for k, v := range o.tracks {
		c.tracks[k] += v
	}
	c.events += o.events
	c.skipped += o.skipped
	return nil
}

// Aggregator merges worker collections at a single synchronization point.
type Aggregator struct {
	mu    sync.Mutex
	total *Collection
}

// NewAggregator returns an aggregator with an empty total.
func NewAggregator(s *Settings) *Aggregator {
	return &Aggregator{total: NewCollection(s)}
}

// Add merges a collection into the total.
func (a *Aggregator) Add(c *Collection) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total.Merge(c)
}

// Total returns the merged collection. Callers must not call Add concurrently
// with reading it.
func (a *Aggregator) Total() *Collection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}
