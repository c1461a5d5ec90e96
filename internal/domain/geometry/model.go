// Package geometry describes hybrid pixel detector models and the coordinate
// arithmetic between pixel indices and positions in the local and global frames.
//
// The local frame has its origin at the centre of pixel (0,0) at half sensor
// depth. A Model is immutable once built; every extent it reports is derived
// from the stored parameters on each call.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Index addresses a pixel by column (X) and row (Y).
type Index struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Chebyshev returns max(|dx|, |dy|) between two pixel indices.
func (i Index) Chebyshev(j Index) int {
	return max(abs(i.X-j.X), abs(i.Y-j.Y))
}

func (i Index) String() string {
	return fmt.Sprintf("(%d,%d)", i.X, i.Y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// GuardRing is the sensor excess beyond the pixel matrix on each side.
type GuardRing struct {
	Top, Bottom, Left, Right float64
}

// Bumps describes the bump-bond layer between sensor and chip.
type Bumps struct {
	SphereRadius   float64
	CylinderRadius float64
	Height         float64
	Offset         r2.Vec
}

// CoverLayer is an optional passive layer on top of the sensor.
type CoverLayer struct {
	Height   float64
	Material string
}

// Model is a hybrid pixel detector model: a pixelated sensor bump-bonded to a
// readout chip mounted on a PCB.
type Model struct {
	name            string
	pixelSize       r2.Vec
	columns, rows   int
	sensorThickness float64
	guardRing       GuardRing
	sensorOffset    r2.Vec
	chipSize        r3.Vec
	chipOffset      r3.Vec
	pcbSize         r3.Vec
	bumps           Bumps
	cover           CoverLayer
	hasCover        bool
}

// ModelOption configures a Model under construction.
type ModelOption func(*Model)

// WithPixelSize sets the pixel pitch in x and y.
func WithPixelSize(x, y float64) ModelOption {
	return func(m *Model) { m.pixelSize = r2.Vec{X: x, Y: y} }
}

// WithNPixels sets the number of columns and rows.
func WithNPixels(columns, rows int) ModelOption {
	return func(m *Model) { m.columns, m.rows = columns, rows }
}

// WithSensorThickness sets the sensor depth along z.
func WithSensorThickness(t float64) ModelOption {
	return func(m *Model) { m.sensorThickness = t }
}

// WithGuardRing sets the sensor excess on each side of the pixel matrix.
func WithGuardRing(g GuardRing) ModelOption {
	return func(m *Model) { m.guardRing = g }
}

// WithSensorOffset shifts the sensor relative to the PCB.
func WithSensorOffset(x, y float64) ModelOption {
	return func(m *Model) { m.sensorOffset = r2.Vec{X: x, Y: y} }
}

// WithChip sets the readout chip size and offset.
func WithChip(size, offset r3.Vec) ModelOption {
	return func(m *Model) { m.chipSize, m.chipOffset = size, offset }
}

// WithPCB sets the PCB size.
func WithPCB(size r3.Vec) ModelOption {
	return func(m *Model) { m.pcbSize = size }
}

// WithBumps sets the bump-bond parameters.
func WithBumps(b Bumps) ModelOption {
	return func(m *Model) { m.bumps = b }
}

// WithCoverLayer enables a cover layer of the given height. An empty
// material defaults to aluminium.
func WithCoverLayer(height float64, material string) ModelOption {
	return func(m *Model) {
		if material == "" {
			material = "Al"
		}
		m.cover = CoverLayer{Height: height, Material: material}
		m.hasCover = true
	}
}

// NewModel builds a model. The grid defaults to a single pixel; the pitch has
// no default and must be positive.
func NewModel(name string, opts ...ModelOption) (*Model, error) {
	m := &Model{name: name, columns: 1, rows: 1}
	for _, opt := range opts {
		opt(m)
	}
	if m.pixelSize.X <= 0 || m.pixelSize.Y <= 0 {
		return nil, fmt.Errorf("%w: %q: pixel pitch %gx%g must be positive",
			ErrBadModel, name, m.pixelSize.X, m.pixelSize.Y)
	}
	if m.columns < 1 || m.rows < 1 {
		return nil, fmt.Errorf("%w: %q: pixel grid %dx%d must be at least 1x1",
			ErrBadModel, name, m.columns, m.rows)
	}
	if m.sensorThickness < 0 || (m.hasCover && m.cover.Height < 0) {
		return nil, fmt.Errorf("%w: %q: negative thickness", ErrBadModel, name)
	}
	return m, nil
}

// Name returns the model type name.
func (m *Model) Name() string { return m.name }

// PixelSize returns the pixel pitch.
func (m *Model) PixelSize() r2.Vec { return m.pixelSize }

// NPixels returns the number of columns and rows.
func (m *Model) NPixels() Index { return Index{X: m.columns, Y: m.rows} }

// PixelPosition returns the local-frame centre of a pixel. Indices outside the
// grid are not rejected; bounds checks belong to the caller.
func (m *Model) PixelPosition(idx Index) r3.Vec {
	return r3.Vec{
		X: float64(idx.X) * m.pixelSize.X,
		Y: float64(idx.Y) * m.pixelSize.Y,
	}
}

// PixelIndex returns the pixel whose cell contains the local-frame point p.
func (m *Model) PixelIndex(p r3.Vec) Index {
	return Index{
		X: int(math.Floor(p.X/m.pixelSize.X + 0.5)),
		Y: int(math.Floor(p.Y/m.pixelSize.Y + 0.5)),
	}
}

// IsWithinGrid reports whether idx addresses a pixel of the matrix.
func (m *Model) IsWithinGrid(idx Index) bool {
	return idx.X >= 0 && idx.Y >= 0 && idx.X < m.columns && idx.Y < m.rows
}

// GridSize is the extent of the pixel matrix.
func (m *Model) GridSize() r3.Vec {
	return r3.Vec{
		X: float64(m.columns) * m.pixelSize.X,
		Y: float64(m.rows) * m.pixelSize.Y,
		Z: m.sensorThickness,
	}
}

// SensorSize is the pixel matrix plus guard ring.
func (m *Model) SensorSize() r3.Vec {
	g := m.GridSize()
	return r3.Vec{
		X: g.X + m.guardRing.Left + m.guardRing.Right,
		Y: g.Y + m.guardRing.Top + m.guardRing.Bottom,
		Z: m.sensorThickness,
	}
}

// SensorMin is the lower corner of the sensor in the local frame.
func (m *Model) SensorMin() r3.Vec {
	return r3.Vec{
		X: -m.pixelSize.X/2 - m.guardRing.Left,
		Y: -m.pixelSize.Y/2 - m.guardRing.Bottom,
		Z: -m.sensorThickness / 2,
	}
}

// Center is the middle of the sensor in the local frame.
func (m *Model) Center() r3.Vec {
	return r3.Add(m.SensorMin(), r3.Scale(0.5, m.SensorSize()))
}

// SensorOffset returns the sensor offset relative to the PCB. Its z component
// is half the PCB thickness.
func (m *Model) SensorOffset() r3.Vec {
	return r3.Vec{X: m.sensorOffset.X, Y: m.sensorOffset.Y, Z: m.pcbSize.Z / 2}
}

// GuardRing returns the sensor excess on each side.
func (m *Model) GuardRing() GuardRing { return m.guardRing }

// ChipOffset returns the chip offset.
func (m *Model) ChipOffset() r3.Vec { return m.chipOffset }

// HalfChipSize returns half the chip extents.
func (m *Model) HalfChipSize() r3.Vec { return r3.Scale(0.5, m.chipSize) }

// HalfPCBSize returns half the PCB extents.
func (m *Model) HalfPCBSize() r3.Vec { return r3.Scale(0.5, m.pcbSize) }

// Bumps returns the bump-bond parameters.
func (m *Model) Bumps() Bumps { return m.bumps }

// HalfWrapper returns the half extents of the box enclosing the whole
// detector. In x and y it follows the PCB; in z it stacks PCB, chip, bumps,
// sensor and the cover layer when present.
func (m *Model) HalfWrapper() r3.Vec {
	dz := m.pcbSize.Z/2 + m.chipSize.Z/2 + m.bumps.Height/2 + m.sensorThickness/2
	if m.hasCover {
		dz += m.cover.Height / 2
	}
	return r3.Vec{X: m.pcbSize.X / 2, Y: m.pcbSize.Y / 2, Z: dz}
}

// HasCoverLayer reports whether a cover layer is configured.
func (m *Model) HasCoverLayer() bool { return m.hasCover }

// CoverLayer returns the cover layer; it is the zero value when absent.
func (m *Model) CoverLayer() CoverLayer { return m.cover }
