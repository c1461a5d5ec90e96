package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Axis is a fixed-width binning over [Min, Max).
type Axis struct {
	Bins int     `koanf:"bins" json:"bins"`
	Min  float64 `koanf:"min" json:"min"`
	Max  float64 `koanf:"max" json:"max"`
}

// Validate rejects empty or inverted axes.
func (a Axis) Validate() error {
	if a.Bins < 1 || !(a.Max > a.Min) {
		return fmt.Errorf("%w: %d bins over [%g, %g)", ErrBinning, a.Bins, a.Min, a.Max)
	}
	return nil
}

// Width is the bin width.
func (a Axis) Width() float64 { return (a.Max - a.Min) / float64(a.Bins) }

// Center returns the centre of bin i.
func (a Axis) Center(i int) float64 { return a.Min + (float64(i)+0.5)*a.Width() }

// bin maps x to a bin number; -1 is underflow and Bins is overflow.
func (a Axis) bin(x float64) int {
	if x < a.Min || math.IsNaN(x) {
		return -1
	}
	if x >= a.Max {
		return a.Bins
	}
	i := int((x - a.Min) / a.Width())
	return min(i, a.Bins-1)
}

// Hist1D is a weighted one-dimensional histogram with under- and overflow.
type Hist1D struct {
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Axis      Axis      `json:"axis"`
	Counts    []float64 `json:"counts"`
	Underflow float64   `json:"underflow"`
	Overflow  float64   `json:"overflow"`
	Entries   int64     `json:"entries"`
}

// NewHist1D books an empty histogram.
func NewHist1D(name, title string, axis Axis) *Hist1D {
	return &Hist1D{Name: name, Title: title, Axis: axis, Counts: make([]float64, axis.Bins)}
}

// Fill adds one entry of unit weight.
func (h *Hist1D) Fill(x float64) { h.FillW(x, 1) }

// FillW adds one entry of weight w.
func (h *Hist1D) FillW(x, w float64) {
	h.Entries++
	switch i := h.Axis.bin(x); {
	case i < 0:
		h.Underflow += w
	case i >= h.Axis.Bins:
		h.Overflow += w
	default:
		h.Counts[i] += w
	}
}

// Merge adds o into h. Both must share the same binning.
func (h *Hist1D) Merge(o *Hist1D) error {
	if h.Axis != o.Axis {
		return fmt.Errorf("%w: %s", ErrBinning, h.Name)
	}
	floats.Add(h.Counts, o.Counts)
	h.Underflow += o.Underflow
	h.Overflow += o.Overflow
	h.Entries += o.Entries
	return nil
}

// Integral is the in-range sum of weights.
func (h *Hist1D) Integral() float64 { return floats.Sum(h.Counts) }

// MeanStdDev estimates the mean and RMS of the in-range content from bin
// centres. The RMS is the population deviation, normalised by the total
// weight. An empty histogram yields zeros.
func (h *Hist1D) MeanStdDev() (mean, std float64) {
	if h.Integral() == 0 {
		return 0, 0
	}
	centers := make([]float64, h.Axis.Bins)
	for i := range centers {
		centers[i] = h.Axis.Center(i)
	}
	mean, std = stat.PopMeanStdDev(centers, h.Counts)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

// Hist2D is a weighted two-dimensional histogram. Entries outside either
// axis are counted as Outside.
type Hist2D struct {
	Name    string    `json:"name"`
	Title   string    `json:"title"`
	X       Axis      `json:"x"`
	Y       Axis      `json:"y"`
	Counts  []float64 `json:"counts"`
	Outside float64   `json:"outside"`
	Entries int64     `json:"entries"`
}

// NewHist2D books an empty histogram.
func NewHist2D(name, title string, x, y Axis) *Hist2D {
	return &Hist2D{Name: name, Title: title, X: x, Y: y, Counts: make([]float64, x.Bins*y.Bins)}
}

// Fill adds one entry of unit weight.
func (h *Hist2D) Fill(x, y float64) {
	h.Entries++
	i, j := h.X.bin(x), h.Y.bin(y)
	if i < 0 || j < 0 || i >= h.X.Bins || j >= h.Y.Bins {
		h.Outside++
		return
	}
	h.Counts[j*h.X.Bins+i]++
}

// At returns the content of bin (i, j).
func (h *Hist2D) At(i, j int) float64 { return h.Counts[j*h.X.Bins+i] }

// Merge adds o into h. Both must share the same binning.
func (h *Hist2D) Merge(o *Hist2D) error {
	if h.X != o.X || h.Y != o.Y {
		return fmt.Errorf("%w: %s", ErrBinning, h.Name)
	}
	floats.Add(h.Counts, o.Counts)
	h.Outside += o.Outside
	h.Entries += o.Entries
	return nil
}
