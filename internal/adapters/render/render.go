// Package render draws the histograms of a run as PNG files.
package render

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/pkg/logger"
)

const (
	defaultWidth  = 8 * vg.Inch
	defaultHeight = 6 * vg.Inch
)

var barColor = color.RGBA{R: 70, G: 110, B: 180, A: 255}

// Renderer writes one PNG per histogram under <dir>/<detector>/.
type Renderer struct {
	dir           string
	width, height vg.Length
	logger        logger.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithSize sets the canvas size.
func WithSize(width, height vg.Length) Option {
	return func(r *Renderer) {
		if width > 0 && height > 0 {
			r.width, r.height = width, height
		}
	}
}

// New returns a renderer writing below dir.
func New(dir string, opts ...Option) *Renderer {
	r := &Renderer{
		dir:    dir,
		width:  defaultWidth,
		height: defaultHeight,
		logger: logger.Get().Named("render"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render draws every histogram of every detector and returns the written
// file paths.
func (r *Renderer) Render(ctx context.Context, c *analysis.Collection) ([]string, error) {
	var files []string
	for _, name := range c.Detectors() {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		book, err := c.Book(name)
		if err != nil {
			return files, err
		}
		dir := filepath.Join(r.dir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return files, fmt.Errorf("create %s: %w", dir, err)
		}

		for _, h := range book.Histograms1D() {
			p := histogram(h, name)
			file := filepath.Join(dir, h.Name+".png")
			if err := p.Save(r.width, r.height, file); err != nil {
				return files, fmt.Errorf("save %s: %w", file, err)
			}
			files = append(files, file)
		}

		p := heatMap(book.HitMap, name)
		file := filepath.Join(dir, book.HitMap.Name+".png")
		if err := p.Save(r.width, r.width, file); err != nil {
			return files, fmt.Errorf("save %s: %w", file, err)
		}
		files = append(files, file)
	}
	r.logger.Info(ctx, "histograms rendered", logger.String("dir", r.dir), logger.Int("files", len(files)))
	return files, nil
}

func histogram(h *analysis.Hist1D, detector string) *plot.Plot {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %s", detector, h.Title)
	p.X.Label.Text = h.Title
	p.Y.Label.Text = "Entries"

	bins := make([]plotter.HistogramBin, len(h.Counts))
	for i, n := range h.Counts {
		lo := h.Axis.Min + float64(i)*h.Axis.Width()
		bins[i] = plotter.HistogramBin{Min: lo, Max: lo + h.Axis.Width(), Weight: n}
	}
	p.Add(&plotter.Histogram{
		Bins:      bins,
		Width:     h.Axis.Width(),
		FillColor: barColor,
		LineStyle: plotter.DefaultLineStyle,
	})
	p.X.Min, p.X.Max = h.Axis.Min, h.Axis.Max
	return p
}

// grid adapts a Hist2D to plotter.GridXYZ.
type grid struct{ h *analysis.Hist2D }

func (g grid) Dims() (c, r int)   { return g.h.X.Bins, g.h.Y.Bins }
func (g grid) Z(c, r int) float64 { return g.h.At(c, r) }
func (g grid) X(c int) float64    { return g.h.X.Center(c) }
func (g grid) Y(r int) float64    { return g.h.Y.Center(r) }

func heatMap(h *analysis.Hist2D, detector string) *plot.Plot {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %s", detector, h.Title)
	p.X.Label.Text = "x (mm)"
	p.Y.Label.Text = "y (mm)"
	hm := plotter.NewHeatMap(grid{h}, palette.Heat(16, 1))
	// an empty map has Min == Max, which the heat map cannot scale
	if hm.Min == hm.Max {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)
	return p
}
