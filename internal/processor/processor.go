// Package processor dispatches a file operation across backends in order.
//
// Each round tries the backends in turn. A backend that answers ends the
// round; one that cannot find the path or cannot serve the request passes
// it to the next; a conflict or a fatal error aborts. When every backend
// passes, the round fails with processing_failed, retryable when any of the
// failures was transient. Only retryable rounds are repeated, under the
// configured backoff policy.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koustreak/bacanora/internal/backend"
	"github.com/koustreak/bacanora/internal/config"
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/logger"
	"github.com/koustreak/bacanora/internal/metrics"
	"github.com/koustreak/bacanora/internal/retry"
)

// Registry maps processor names to backends, remembering registration
// order. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	backends map[string]backend.Backend
}

// NewRegistry returns a Registry holding bs.
func NewRegistry(bs ...backend.Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]backend.Backend)}
	for _, b := range bs {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds b under b.Name().
func (r *Registry) Register(b backend.Backend) error {
	if b == nil || b.Name() == "" {
		return errs.New(errs.ErrKindInvalidInput, "backend must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[b.Name()]; ok {
		return errs.Newf(errs.ErrKindInvalidInput, "backend %q is already registered", b.Name())
	}
	r.backends[b.Name()] = b
	r.order = append(r.order, b.Name())
	return nil
}

// Get returns the backend registered as name.
func (r *Registry) Get(name string) (backend.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Processor runs commands against a Registry.
type Processor struct {
	registry *Registry
	order    []string
	policy   retry.Policy
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// Option configures a Processor.
type Option func(*Processor)

// WithOrder sets the default backend order.
func WithOrder(names ...string) Option {
	return func(p *Processor) { p.order = names }
}

// WithRetryPolicy replaces the policy built from config.
func WithRetryPolicy(rp retry.Policy) Option {
	return func(p *Processor) { p.policy = rp }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Processor) { p.log = l.Component("processor") }
}

// WithMetrics records attempts, retries and durations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// New returns a Processor using the backend order and retry settings of
// cfg. An empty order falls back to registration order.
func New(registry *Registry, cfg config.Config, opts ...Option) *Processor {
	p := &Processor{
		registry: registry,
		order:    cfg.Processors,
		policy:   retry.FromConfig(cfg.Retry),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.order) == 0 {
		p.order = registry.Names()
	}
	return p
}

// Process runs cmd. req.Processor, when set, restricts dispatch to that
// backend.
func (p *Processor) Process(ctx context.Context, cmd backend.Command, req backend.Request) (any, error) {
	start := time.Now()
	defer func() { p.metrics.Observe(string(cmd), time.Since(start)) }()

	names := p.order
	if req.Processor != "" {
		names = []string{req.Processor}
	}

	policy := p.policy
	policy.Retryable = func(err error) bool {
		return errs.KindOf(err) == errs.ErrKindProcessingFailed && errs.IsRetryable(err)
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		p.metrics.Retry(string(cmd))
		p.log.WarnWith("retrying", err, map[string]any{
			"command": string(cmd),
			"attempt": attempt,
			"delay":   delay.String(),
		})
	}
	v, err := retry.Value(ctx, policy, func(ctx context.Context) (any, error) {
		return p.round(ctx, names, cmd, req)
	})
	if err != nil {
		p.log.ErrorWith("dispatch failed", err, map[string]any{
			"command": string(cmd),
			"system":  req.System,
			"path":    req.Path,
		})
	}
	return v, err
}

func (p *Processor) round(ctx context.Context, names []string, cmd backend.Command, req backend.Request) (any, error) {
	var (
		unknown, unimplemented int
		transient              bool
		last, failure          error
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.ErrKindTimeout, "dispatch interrupted", err)
		}
		b, ok := p.registry.Get(name)
		if !ok {
			unknown++
			last = errs.Newf(errs.ErrKindBackendNotImplemented, "no backend named %q", name)
			p.metrics.Attempt(name, string(cmd), "unknown_backend")
			continue
		}

		value, implemented, err := backend.Invoke(ctx, b, cmd, req)
		if !implemented {
			unimplemented++
			last = err
			p.metrics.Attempt(name, string(cmd), "not_implemented")
			continue
		}

		o := backend.Evaluate(value, err)
		p.metrics.Attempt(name, string(cmd), o.Kind.String())
		switch o.Kind {
		case backend.Success:
			return o.Value, nil
		case backend.NotFound, backend.Inapplicable:
			p.log.DebugWith("falling through", map[string]any{"backend": name, "command": string(cmd), "outcome": o.Kind.String(), "error": o.Err.Error()})
			failure = o.Err
		case backend.Transient:
			p.log.WarnWith("backend failed", o.Err, map[string]any{"backend": name, "command": string(cmd)})
			transient = true
			failure = o.Err
		default:
			return nil, o.Err
		}
	}

	n := len(names)
	switch {
	case n == 0:
		return nil, errs.New(errs.ErrKindBackendNotImplemented, "no backends configured")
	case unknown == n:
		return nil, errs.Wrap(errs.ErrKindBackendNotImplemented, fmt.Sprintf("none of %v is a known backend", names), last)
	case unknown+unimplemented == n:
		return nil, errs.Newf(errs.ErrKindOperationNotImplemented, "%s is not implemented by %v", cmd, names)
	case transient:
		return nil, errs.Transient(errs.ErrKindProcessingFailed, fmt.Sprintf("%s failed on every backend", cmd), failure)
	}
	return nil, errs.Wrap(errs.ErrKindProcessingFailed, fmt.Sprintf("%s failed on every backend", cmd), failure)
}

// Run is Process with the result converted to T.
func Run[T any](ctx context.Context, p *Processor, cmd backend.Command, req backend.Request) (T, error) {
	var zero T
	v, err := p.Process(ctx, cmd, req)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errs.Newf(errs.ErrKindProcessingFailed, "%s returned %T", cmd, v)
	}
	return t, nil
}
