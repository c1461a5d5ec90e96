// Package config defines run configuration structures and loading hooks.
//
// Conventions:
//   - New() returns a Config describing the thermal-neutron setup.
//   - Load layers a YAML file and environment variables on top of New().
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/okian/pixreco/internal/domain/analysis"
	"github.com/okian/pixreco/internal/domain/clustering"
	"github.com/okian/pixreco/internal/domain/geometry"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080". Empty disables
	// the HTTP surface.
	Addr string `koanf:"addr"`

	// EventQueueSize bounds the in-memory event queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of event workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the event-id deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// InputPath names a JSON-lines event file replayed at startup.
	InputPath string `koanf:"input_path"`

	// OutputDir receives the rendered plots. Empty disables rendering.
	OutputDir string `koanf:"output_dir"`

	// DatabasePath is the SQLite file for clusters and summaries. Empty
	// disables persistence.
	DatabasePath string `koanf:"database_path"`

	// AbortOnError stops the run on the first failed event.
	AbortOnError bool `koanf:"abort_on_error"`

	// RunName labels the run in storage and reports.
	RunName string `koanf:"run_name"`

	Models     map[string]ModelConfig `koanf:"models"`
	Detectors  []DetectorConfig       `koanf:"detectors"`
	Clustering ClusteringConfig       `koanf:"clustering"`
	Analysis   analysis.Settings      `koanf:"analysis"`
}

// Vec2 is a planar vector in millimetres.
type Vec2 struct {
	X float64 `koanf:"x"`
	Y float64 `koanf:"y"`
}

// Vec3 is a spatial vector in millimetres.
type Vec3 struct {
	X float64 `koanf:"x"`
	Y float64 `koanf:"y"`
	Z float64 `koanf:"z"`
}

func (v Vec3) r3() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

// Grid is a pixel matrix size.
type Grid struct {
	Columns int `koanf:"columns"`
	Rows    int `koanf:"rows"`
}

// GuardRing holds the excess sensor material around the pixel matrix.
type GuardRing struct {
	Top    float64 `koanf:"top"`
	Bottom float64 `koanf:"bottom"`
	Left   float64 `koanf:"left"`
	Right  float64 `koanf:"right"`
}

// Bumps describes the bump-bond layer.
type Bumps struct {
	SphereRadius   float64 `koanf:"sphere_radius"`
	CylinderRadius float64 `koanf:"cylinder_radius"`
	Height         float64 `koanf:"height"`
	Offset         Vec2    `koanf:"offset"`
}

// CoverLayer is an optional passive layer on the sensor. A zero height
// means no layer.
type CoverLayer struct {
	Height   float64 `koanf:"height"`
	Material string  `koanf:"material"`
}

// ModelConfig describes one hybrid pixel detector model.
type ModelConfig struct {
	PixelSize       Vec2       `koanf:"pixel_size"`
	Pixels          Grid       `koanf:"pixels"`
	SensorThickness float64    `koanf:"sensor_thickness"`
	SensorOffset    Vec2       `koanf:"sensor_offset"`
	GuardRing       GuardRing  `koanf:"guard_ring"`
	ChipSize        Vec3       `koanf:"chip_size"`
	ChipOffset      Vec3       `koanf:"chip_offset"`
	PCBSize         Vec3       `koanf:"pcb_size"`
	Bumps           Bumps      `koanf:"bumps"`
	CoverLayer      CoverLayer `koanf:"cover_layer"`
}

// DetectorConfig places a named detector of a model in the world frame.
type DetectorConfig struct {
	Name     string `koanf:"name"`
	Model    string `koanf:"model"`
	Position Vec3   `koanf:"position"`
	// Rotation about the z axis in degrees.
	Rotation float64 `koanf:"rotation"`
}

// ClusteringConfig controls the clustering engine.
type ClusteringConfig struct {
	// Trim drops pixels farther than TrimRadius from each cluster's seed.
	Trim bool `koanf:"trim"`
	// TrimRadius is the Chebyshev distance kept around the seed.
	TrimRadius int `koanf:"trim_radius"`
}

// Default model and detector names.
const (
	DefaultModel    = "timepix3"
	DefaultDetector = "B10CoatedDetector"
)

// New creates a Config with defaults for a single boron-coated Timepix3-like
// sensor.
func New() *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		Addr:           ":9080",
		EventQueueSize: 4096,
		WorkerCount:    runtime.NumCPU(),
		DedupeSize:     100_000,
		OutputDir:      "output",
		RunName:        "thermal-neutrons",
		Models:         DefaultModels(),
		Detectors:      DefaultDetectors(),
		Clustering:     ClusteringConfig{Trim: true, TrimRadius: clustering.DefaultTrimRadius},
		Analysis:       analysis.DefaultSettings(),
	}
}

// DefaultModels returns the Timepix3-like model used by New.
func DefaultModels() map[string]ModelConfig {
	return map[string]ModelConfig{
		DefaultModel: {
			PixelSize:       Vec2{X: 0.055, Y: 0.055},
			Pixels:          Grid{Columns: 256, Rows: 256},
			SensorThickness: 0.3,
			GuardRing:       GuardRing{Top: 0.5, Bottom: 0.5, Left: 0.5, Right: 0.5},
			ChipSize:        Vec3{X: 14.111, Y: 16.541, Z: 0.3},
			ChipOffset:      Vec3{X: 0, Y: -1.0, Z: 0},
			PCBSize:         Vec3{X: 40, Y: 40, Z: 1.6},
			Bumps:           Bumps{SphereRadius: 0.01, CylinderRadius: 0.007, Height: 0.02},
			CoverLayer:      CoverLayer{Height: 0.002, Material: "B10"},
		},
	}
}

// DefaultDetectors returns the detector placement used by New.
func DefaultDetectors() []DetectorConfig {
	return []DetectorConfig{{Name: DefaultDetector, Model: DefaultModel}}
}

// Validate checks the scalar settings, the geometry references and the
// analysis settings.
func (c *Config) Validate() error {
	switch {
	case c.EventQueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.EventQueueSize)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive, got %d", ErrInvalidConfig, c.WorkerCount)
	case c.Clustering.Trim && c.Clustering.TrimRadius <= 0:
		return fmt.Errorf("%w: clustering.trim_radius must be positive", ErrInvalidConfig)
	case len(c.Detectors) == 0:
		return fmt.Errorf("%w: no detectors configured", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Detectors))
	for _, d := range c.Detectors {
		if d.Name == "" {
			return fmt.Errorf("%w: detector without a name", ErrInvalidConfig)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: detector %q listed twice", ErrInvalidConfig, d.Name)
		}
		seen[d.Name] = true
		if _, ok := c.Models[d.Model]; !ok {
			return fmt.Errorf("%w: detector %q uses unknown model %q", ErrInvalidConfig, d.Name, d.Model)
		}
	}
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Registry builds a frozen geometry registry from the configured models and
// detectors. Models are registered in name order.
func (c *Config) Registry() (*geometry.Registry, error) {
	reg := geometry.NewRegistry()

	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m, err := c.Models[name].Build(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if err := reg.AddModel(m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	for _, d := range c.Detectors {
		rot := d.Rotation * math.Pi / 180
		if _, err := reg.AddDetector(d.Name, d.Model,
			geometry.WithPlacement(d.Position.X, d.Position.Y, d.Position.Z, rot)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	reg.Freeze()
	return reg, nil
}

// ClusteringOptions translates the clustering section into engine options.
func (c *Config) ClusteringOptions() []clustering.Option {
	if !c.Clustering.Trim {
		return nil
	}
	return []clustering.Option{clustering.WithTrim(c.Clustering.TrimRadius)}
}

// Build turns the model description into a geometry model.
func (m ModelConfig) Build(name string) (*geometry.Model, error) {
	opts := []geometry.ModelOption{
		geometry.WithPixelSize(m.PixelSize.X, m.PixelSize.Y),
		geometry.WithNPixels(m.Pixels.Columns, m.Pixels.Rows),
		geometry.WithSensorThickness(m.SensorThickness),
		geometry.WithSensorOffset(m.SensorOffset.X, m.SensorOffset.Y),
		geometry.WithGuardRing(geometry.GuardRing{
			Top: m.GuardRing.Top, Bottom: m.GuardRing.Bottom,
			Left: m.GuardRing.Left, Right: m.GuardRing.Right,
		}),
		geometry.WithChip(m.ChipSize.r3(), m.ChipOffset.r3()),
		geometry.WithPCB(m.PCBSize.r3()),
		geometry.WithBumps(geometry.Bumps{
			SphereRadius:   m.Bumps.SphereRadius,
			CylinderRadius: m.Bumps.CylinderRadius,
			Height:         m.Bumps.Height,
			Offset:         r2.Vec{X: m.Bumps.Offset.X, Y: m.Bumps.Offset.Y},
		}),
	}
	if m.CoverLayer.Height != 0 {
		opts = append(opts, geometry.WithCoverLayer(m.CoverLayer.Height, m.CoverLayer.Material))
	}
	return geometry.NewModel(name, opts...)
}
