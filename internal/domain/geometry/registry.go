package geometry

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Registry holds the models and detectors of a run. It is populated during
// setup and frozen before the first event.
type Registry struct {
	mu        sync.RWMutex
	frozen    bool
	models    map[string]*Model
	detectors map[string]*Detector
	order     []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models:    make(map[string]*Model),
		detectors: make(map[string]*Detector),
	}
}

// AddModel registers a model under its name.
func (r *Registry) AddModel(m *Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, ok := r.models[m.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrModelExists, m.Name())
	}
	r.models[m.Name()] = m
	return nil
}

// AddDetector places a detector using a previously registered model.
func (r *Registry) AddDetector(name, model string, opts ...DetectorOption) (*Detector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil, ErrRegistryFrozen
	}
	if _, ok := r.detectors[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDetectorExists, name)
	}
	m, ok := r.models[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q (detector %q)", ErrInvalidModel, model, name)
	}
	d := NewDetector(name, m, r3.Vec{}, 0)
	for _, opt := range opts {
		opt(d)
	}
	r.detectors[name] = d
	r.order = append(r.order, name)
	return d, nil
}

// DetectorOption configures a detector placement.
type DetectorOption func(*Detector)

// WithPlacement sets the global position and the rotation about z.
func WithPlacement(x, y, z, rotationZ float64) DetectorOption {
	return func(d *Detector) {
		d.position.X, d.position.Y, d.position.Z = x, y, z
		d.rotationZ = rotationZ
	}
}

// Freeze forbids further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Model looks up a model by name.
func (r *Registry) Model(name string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidModel, name)
	}
	return m, nil
}

// Detector looks up a detector by name.
func (r *Registry) Detector(name string) (*Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDetector, name)
	}
	return d, nil
}

// Detectors returns every detector in registration order.
func (r *Registry) Detectors() []*Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Detector, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.detectors[name])
	}
	return out
}
