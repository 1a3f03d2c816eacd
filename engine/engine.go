// Package engine composes processors into a single lifecycle.
//
// An Engine owns a set of named Runner components, starts them together,
// and stops them in reverse registration order so downstream consumers
// outlive their producers during shutdown.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/deltastream/errors"
	"github.com/c360/deltastream/metric"
)

// Runner is the lifecycle contract components must satisfy.
type Runner interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

type component struct {
	name   string
	runner Runner
}

// Engine manages registered components as one unit.
type Engine struct {
	mu         sync.Mutex
	components []component
	started    bool
	stopped    bool

	logger   *slog.Logger
	registry *metric.Registry
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRegistry sets the metric registry shared with components.
func WithRegistry(reg *metric.Registry) Option {
	return func(e *Engine) {
		if reg != nil {
			e.registry = reg
		}
	}
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:   slog.Default(),
		registry: metric.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Registry returns the shared metric registry.
func (e *Engine) Registry() *metric.Registry {
	return e.registry
}

// Register adds a named component. Names must be unique and components
// cannot be added after Start.
func (e *Engine) Register(name string, r Runner) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Register",
			"register component "+name)
	}
	for _, c := range e.components {
		if c.name == name {
			return errors.WrapInvalid(errors.ErrDuplicateComponent, "Engine", "Register",
				"component name "+name)
		}
	}
	e.components = append(e.components, component{name: name, runner: r})
	return nil
}

// Start starts every registered component. If any fails, components that
// already started are stopped in reverse order and the first error returns.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.Wrap(errors.ErrAlreadyStarted, "Engine", "Start", "start engine")
	}
	e.started = true
	components := make([]component, len(e.components))
	copy(components, e.components)
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	startedCh := make(chan int, len(components))
	for i, c := range components {
		i, c := i, c
		g.Go(func() error {
			if err := c.runner.Start(gctx); err != nil {
				return errors.Wrap(err, "Engine", "Start", "start "+c.name)
			}
			startedCh <- i
			return nil
		})
	}
	err := g.Wait()
	close(startedCh)

	if err != nil {
		started := make(map[int]bool, len(components))
		for i := range startedCh {
			started[i] = true
		}
		for i := len(components) - 1; i >= 0; i-- {
			if !started[i] {
				continue
			}
			c := components[i]
			if stopErr := c.runner.Stop(5 * time.Second); stopErr != nil {
				e.logger.Warn("rollback stop failed", "name", c.name, "error", stopErr)
			}
		}
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		return err
	}

	e.logger.Info("engine started", "components", len(components))
	return nil
}

// Stop stops components in reverse registration order, giving each the
// full timeout. The first error is returned after all components stop.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return errors.Wrap(errors.ErrNotStarted, "Engine", "Stop", "stop engine")
	}
	if e.stopped {
		e.mu.Unlock()
		return errors.Wrap(errors.ErrAlreadyStopped, "Engine", "Stop", "stop engine")
	}
	e.stopped = true
	components := make([]component, len(e.components))
	copy(components, e.components)
	e.mu.Unlock()

	var firstErr error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.runner.Stop(timeout); err != nil {
			e.logger.Warn("component stop failed", "name", c.name, "error", err)
			if firstErr == nil {
				firstErr = errors.Wrap(err, "Engine", "Stop", "stop "+c.name)
			}
		}
	}
	if firstErr == nil {
		e.logger.Info("engine stopped", "components", len(components))
	}
	return firstErr
}
