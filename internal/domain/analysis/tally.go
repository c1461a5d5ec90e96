package analysis

import (
	"github.com/okian/pixreco/internal/domain/clustering"
	"github.com/okian/pixreco/internal/domain/model"
)

// Conversion is a cluster matched to an interaction product.
type Conversion struct {
	X, Y        float64
	ResidualX   float64
	ResidualY   float64
	HasResidual bool
	Charge      float64
	HasCharge   bool
}

// Shape is the footprint of one reconstructed cluster.
type Shape struct {
	Size, SizeX, SizeY int
	Charge             float64
}

// DetectorResult is what one detector contributed to one event.
type DetectorResult struct {
	Detector    string
	Shapes      []Shape
	Conversions []Conversion
	Classes     map[string]uint64
}

// Tally buffers the results of one event until it completes. It belongs to a
// single event and is not safe for concurrent use.
type Tally struct {
	detectors []DetectorResult
	tracks    map[string]uint64
}

// NewTally returns an empty tally.
func NewTally() *Tally {
	return &Tally{tracks: make(map[string]uint64)}
}

// Record appends a detector result.
func (t *Tally) Record(r DetectorResult) { t.detectors = append(t.detectors, r) }

// Results returns the recorded detector results.
func (t *Tally) Results() []DetectorResult { return t.detectors }

// CountTracks counts the event's truth tracks into track-sourced classes.
func (t *Tally) CountTracks(s *Settings, tracks []model.MCTrack) {
	for _, tr := range tracks {
		if c := s.classOf(tr.PDG, SourceTrack); c != nil {
			t.tracks[c.Name]++
		}
	}
}

// Analyze matches the clusters of one detector against its truth particles.
// Clusters are expected in descending charge order.
//
// Under PolicyFirst the walk over a cluster's particles stops as soon as the
// detector has recorded an interaction in this event, so later clusters only
// contribute their first particle to the class counters.
func (s *Settings) Analyze(detector string, data *model.DetectorData, clusters []*clustering.Cluster) DetectorResult {
	res := DetectorResult{Detector: detector, Classes: make(map[string]uint64)}
	interacted := false
	for _, c := range clusters {
		res.Shapes = append(res.Shapes, Shape{Size: c.Size(), SizeX: c.SizeX(), SizeY: c.SizeY(), Charge: c.Charge()})
		centroid := c.Centroid()

		for _, ref := range c.Particles() {
			p, ok := data.Particle(ref)
			if !ok {
				continue
			}
			class := s.classOf(p.PDG, SourceCluster)
			if class != nil && class.Interaction && (s.Association == PolicyAll || !interacted) {
				conv := Conversion{X: centroid.X, Y: centroid.Y, Charge: c.Charge()}
				if c.Charge() > 0 && c.Size() >= s.MinSizeResidual {
					conv.HasResidual = true
					conv.ResidualX = centroid.X - p.LocalStart.X
					conv.ResidualY = centroid.Y - p.LocalStart.Y
				}
				conv.HasCharge = c.Size() >= s.MinSizeCharge
				res.Conversions = append(res.Conversions, conv)
				interacted = true
			}
			if class != nil {
				res.Classes[class.Name]++
			}
			if s.Association == PolicyFirst && interacted {
				break
			}
		}
	}
	return res
}
