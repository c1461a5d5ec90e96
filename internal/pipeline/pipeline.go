// Package pipeline runs an ordered chain of modules over each event. The
// order is derived once, at Build, from the kinds every module consumes and
// produces; modules then exchange event-scoped messages over a messenger bus.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/okian/pixreco/internal/messenger"
	"github.com/okian/pixreco/pkg/logger"
	"github.com/okian/pixreco/pkg/metrics"
)

// Pipeline orchestrates modules. Add and Build happen during setup; Process
// may then be called from many goroutines, each with its own Event.
type Pipeline struct {
	modules []Module
	order   []int
	bus     *messenger.Bus[*Event]
	built   bool
	logger  logger.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns an empty pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{bus: messenger.New[*Event](), logger: logger.Get().Named("pipeline")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add appends modules in declaration order. Module names must be unique.
func (p *Pipeline) Add(mods ...Module) error {
	if p.built {
		return ErrBuilt
	}
	for _, m := range mods {
		if slices.ContainsFunc(p.modules, func(o Module) bool { return o.Name() == m.Name() }) {
			return fmt.Errorf("%w: %q", ErrDuplicateModule, m.Name())
		}
		p.modules = append(p.modules, m)
	}
	return nil
}

func sameScope(a, b string) bool {
	return a == messenger.Wildcard || b == messenger.Wildcard || a == b
}

// Build computes the execution order, wires every module's subscriptions and
// initializes the modules in that order. A module that must run after itself
// is a configuration error. The bus is sealed only once every module is
// initialized, so a Build that failed in Init can be retried.
func (p *Pipeline) Build(ctx context.Context) error {
	if p.built {
		return ErrBuilt
	}

	g := simple.NewDirectedGraph()
	for i := range p.modules {
		g.AddNode(simple.Node(i))
	}
	for ci, consumer := range p.modules {
		for _, kind := range consumer.Consumes() {
			for pi, producer := range p.modules {
				if !slices.Contains(producer.Produces(), kind) || !sameScope(producer.Detector(), consumer.Detector()) {
					continue
				}
				if pi == ci {
					return fmt.Errorf("%w: %q consumes the %s it produces", ErrCycle, consumer.Name(), kind)
				}
				g.SetEdge(g.NewEdge(simple.Node(pi), simple.Node(ci)))
			}
		}
	}

	if _, err := topo.Sort(g); err != nil {
		var cycles topo.Unorderable
		if errors.As(err, &cycles) {
			return fmt.Errorf("%w: %s", ErrCycle, p.describe(cycles))
		}
		return fmt.Errorf("%w: %w", ErrCycle, err)
	}
	order := declarationOrder(g, len(p.modules))

	bus := messenger.New[*Event]()
	for slot, m := range p.modules {
		for _, kind := range m.Consumes() {
			handler := func(_ context.Context, ev *Event, msg *messenger.Message) error {
				ev.deliver(slot, msg)
				return nil
			}
			if err := bus.Subscribe(kind, m.Detector(), m.Name(), handler); err != nil {
				return err
			}
		}
	}

	for _, i := range order {
		m := p.modules[i]
		if err := m.Init(ctx); err != nil {
			return fmt.Errorf("init %q: %w", m.Name(), err)
		}
	}
	bus.Seal()
	p.bus, p.order = bus, order
	p.built = true
	p.logger.Info(ctx, "pipeline built", logger.String("order", strings.Join(p.Order(), " -> ")))
	return nil
}

// declarationOrder is Kahn's algorithm preferring the earliest declared
// module among those whose producers have all run. g must be acyclic.
func declarationOrder(g *simple.DirectedGraph, n int) []int {
	pending := make([]int, n)
	for i := range pending {
		pending[i] = g.To(int64(i)).Len()
	}
	order := make([]int, 0, n)
	for len(order) < n {
		next := slices.Index(pending, 0)
		if next < 0 {
			break
		}
		pending[next] = -1
		order = append(order, next)
		for it := g.From(int64(next)); it.Next(); {
			pending[it.Node().ID()]--
		}
	}
	return order
}

func (p *Pipeline) describe(cycles topo.Unorderable) string {
	parts := make([]string, 0, len(cycles))
	for _, component := range cycles {
		names := make([]string, 0, len(component))
		for _, n := range component {
			names = append(names, p.modules[n.ID()].Name())
		}
		slices.Sort(names)
		parts = append(parts, "["+strings.Join(names, ", ")+"]")
	}
	return strings.Join(parts, " ")
}

// Order returns module names in execution order. It is empty before Build.
func (p *Pipeline) Order() []string {
	names := make([]string, len(p.order))
	for i, idx := range p.order {
		names[i] = p.modules[idx].Name()
	}
	return names
}

// Bus exposes the sealed bus, for inspection.
func (p *Pipeline) Bus() *messenger.Bus[*Event] { return p.bus }

// Process runs every module once over ev. The first module failure marks the
// event Failed and skips the remaining modules.
func (p *Pipeline) Process(ctx context.Context, ev *Event) error {
	if !p.built {
		return ErrNotBuilt
	}
	if ev.state != Pending {
		return fmt.Errorf("%w: %s", ErrEventState, ev.state)
	}
	ev.p = p
	ev.inbox = make([][]*messenger.Message, len(p.modules))
	ev.state = Running
	defer ev.release()

	for _, i := range p.order {
		m := p.modules[i]
		ev.current = i
		if s, ok := m.(Skipper); ok && s.Skip(ev) {
			continue
		}
		start := time.Now()
		err := m.Run(ctx, ev)
		metrics.RecordModuleLatency(m.Name(), float64(time.Since(start).Microseconds())/1000)
		if err == nil {
			err = ev.err
		}
		if err != nil {
			ev.state = Failed
			ev.err = fmt.Errorf("%w: %q: %w", ErrModuleFailed, m.Name(), err)
			metrics.RecordModuleError(m.Name())
			return ev.err
		}
	}
	ev.state = Completed
	return nil
}

// Finalize calls every module's Finalize in execution order and returns the
// joined errors.
func (p *Pipeline) Finalize(ctx context.Context) error {
	if !p.built {
		return ErrNotBuilt
	}
	var errs []error
	for _, i := range p.order {
		m := p.modules[i]
		if err := m.Finalize(ctx); err != nil {
			errs = append(errs, fmt.Errorf("finalize %q: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}
