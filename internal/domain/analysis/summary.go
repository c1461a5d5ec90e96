package analysis

// DetectorSummary is the scalar report of one detector.
type DetectorSummary struct {
	Detector      string            `json:"detector"`
	Events        uint64            `json:"events"`
	Clusters      uint64            `json:"clusters"`
	Conversions   uint64            `json:"conversions"`
	Efficiency    float64           `json:"efficiency_percent"`
	Classes       map[string]uint64 `json:"classes"`
	ResidualMeanX float64           `json:"residual_mean_x"`
	ResidualRMSX  float64           `json:"residual_rms_x"`
	ResidualMeanY float64           `json:"residual_mean_y"`
	ResidualRMSY  float64           `json:"residual_rms_y"`
}

// Summary is the scalar report of a run.
type Summary struct {
	Events    uint64            `json:"events"`
	Skipped   uint64            `json:"skipped"`
	Tracks    map[string]uint64 `json:"tracks"`
	Detectors []DetectorSummary `json:"detectors"`
}

// Summary computes the report. Efficiency is 100 x conversions / completed
// events.
func (c *Collection) Summary() Summary {
	s := Summary{Events: c.events, Skipped: c.skipped, Tracks: make(map[string]uint64, len(c.tracks))}
	for k, v := range c.tracks {
		s.Tracks[k] = v
	}
	for _, name := range c.Detectors() {
		b := c.books[name]
		d := DetectorSummary{
			Detector:    name,
			Events:      b.Events,
			Clusters:    b.Clusters,
			Conversions: b.Conversions,
			Classes:     make(map[string]uint64, len(b.Classes)),
		}
		for k, v := range b.Classes {
			d.Classes[k] = v
		}
		if c.events > 0 {
			d.Efficiency = 100 * float64(b.Conversions) / float64(c.events)
		}
		d.ResidualMeanX, d.ResidualRMSX = b.ResidualX.MeanStdDev()
		d.ResidualMeanY, d.ResidualRMSY = b.ResidualY.MeanStdDev()
		s.Detectors = append(s.Detectors, d)
	}
	return s
}
