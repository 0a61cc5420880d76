package processor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/bacanora/internal/backend"
	"github.com/koustreak/bacanora/internal/config"
	"github.com/koustreak/bacanora/internal/errs"
	"github.com/koustreak/bacanora/internal/metrics"
	"github.com/koustreak/bacanora/internal/retry"
)

// fake answers get and exists from scripted results.
type fake struct {
	name   string
	get    func(n int) (string, error)
	exists func(n int) (backend.Probe, error)
	calls  atomic.Int32
}

func (f *fake) Name() string { return f.name }

func (f *fake) Get(context.Context, backend.Request) (string, error) {
	return f.get(int(f.calls.Add(1)))
}

// prober wraps fake with the Prober group.
type prober struct{ *fake }

func (p prober) Exists(context.Context, backend.Request) (backend.Probe, error) {
	return p.exists(int(p.calls.Add(1)))
}
func (p prober) IsFile(ctx context.Context, r backend.Request) (backend.Probe, error) {
	return p.Exists(ctx, r)
}
func (p prober) IsDir(ctx context.Context, r backend.Request) (backend.Probe, error) {
	return p.Exists(ctx, r)
}
func (p prober) IsLink(ctx context.Context, r backend.Request) (backend.Probe, error) {
	return p.Exists(ctx, r)
}

func getter(name string, fn func(n int) (string, error)) *fake {
	return &fake{name: name, get: fn}
}

func always(v string, err error) func(int) (string, error) {
	return func(int) (string, error) { return v, err }
}

var fast = retry.Policy{MaxElapsed: 300 * time.Millisecond, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

func newProcessor(t *testing.T, order []string, bs ...backend.Backend) *Processor {
	t.Helper()
	reg, err := NewRegistry(bs...)
	require.NoError(t, err)
	m, err := metrics.New(nil)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Processors = order
	return New(reg, cfg, WithRetryPolicy(fast), WithMetrics(m))
}

func TestProcess_FirstSuccessWins(t *testing.T) {
	a := getter("direct", always("from-direct", nil))
	b := getter("tapis", always("from-tapis", nil))
	p := newProcessor(t, []string{"direct", "tapis"}, a, b)

	got, err := Run[string](context.Background(), p, backend.CmdGet, backend.Request{})
	require.NoError(t, err)
	assert.Equal(t, "from-direct", got)
	assert.Zero(t, b.calls.Load())
}

func TestProcess_Fallthrough(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", errs.New(errs.ErrKindNotFound, "missing locally")},
		{"inapplicable", errs.New(errs.ErrKindManagedStore, "not mounted")},
		{"permission denied", errs.New(errs.ErrKindPermissionDenied, "no access")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := getter("direct", always("", tt.err))
			b := getter("tapis", always("remote", nil))
			p := newProcessor(t, []string{"direct", "tapis"}, a, b)

			got, err := Run[string](context.Background(), p, backend.CmdGet, backend.Request{})
			require.NoError(t, err)
			assert.Equal(t, "remote", got)
		})
	}
}

func TestProcess_IndeterminateProbeFallsThrough(t *testing.T) {
	a := prober{&fake{name: "direct", exists: func(int) (backend.Probe, error) { return backend.Indeterminate("absent locally"), nil }}}
	b := prober{&fake{name: "tapis", exists: func(int) (backend.Probe, error) { return backend.Found(true), nil }}}
	p := newProcessor(t, nil, a, b)

	got, err := Run[bool](context.Background(), p, backend.CmdExists, backend.Request{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestProcess_AbortsOnConflictAndFatal(t *testing.T) {
	for _, err := range []error{
		errs.New(errs.ErrKindConflict, "exists"),
		errs.New(errs.ErrKindUnknownStorageSystem, "no such system"),
	} {
		a := getter("direct", always("", err))
		b := getter("tapis", always("remote", nil))
		p := newProcessor(t, []string{"direct", "tapis"}, a, b)

		_, got := p.Process(context.Background(), backend.CmdGet, backend.Request{})
		assert.ErrorIs(t, got, err)
		assert.Zero(t, b.calls.Load())
		assert.Equal(t, int32(1), a.calls.Load(), "not retried")
	}
}

func TestProcess_NotImplemented(t *testing.T) {
	a := getter("direct", always("x", nil))
	p := newProcessor(t, []string{"direct", "nosuch"}, a)

	_, err := p.Process(context.Background(), backend.CmdWalk, backend.Request{})
	assert.True(t, errs.IsOperationNotImplemented(err))

	_, err = p.Process(context.Background(), backend.CmdGet, backend.Request{Processor: "nosuch"})
	assert.Equal(t, errs.ErrKindBackendNotImplemented, errs.KindOf(err))
	assert.True(t, errs.IsConfiguration(err))

	empty := newProcessor(t, nil)
	_, err = empty.Process(context.Background(), backend.CmdGet, backend.Request{})
	assert.True(t, errs.IsBackendNotImplemented(err))
}

func TestProcess_AllMissingIsNonRetryable(t *testing.T) {
	a := getter("direct", always("", errs.New(errs.ErrKindNotFound, "no local copy")))
	b := getter("tapis", always("", errs.New(errs.ErrKindNotFound, "404")))
	p := newProcessor(t, []string{"direct", "tapis"}, a, b)

	_, err := p.Process(context.Background(), backend.CmdGet, backend.Request{})
	require.Error(t, err)
	assert.True(t, errs.IsProcessingFailed(err))
	assert.True(t, errs.IsNotFound(err), "wraps the last cause")
	assert.False(t, errs.IsRetryable(err))
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestProcess_UnknownBackendDoesNotMaskFailure(t *testing.T) {
	a := getter("direct", always("", errs.New(errs.ErrKindNotFound, "no local copy")))
	p := newProcessor(t, []string{"direct", "tapis"}, a)

	_, err := p.Process(context.Background(), backend.CmdGet, backend.Request{})
	assert.True(t, errs.IsNotFound(err))
	assert.False(t, errs.IsConfiguration(err))
}

func TestProcess_RetriesTransientRounds(t *testing.T) {
	a := getter("direct", always("", errs.New(errs.ErrKindNotFound, "no local copy")))
	b := getter("tapis", func(n int) (string, error) {
		if n < 3 {
			return "", errs.Transient(errs.ErrKindRemoteOperationFailed, "503", nil)
		}
		return "third time", nil
	})
	p := newProcessor(t, []string{"direct", "tapis"}, a, b)

	got, err := Run[string](context.Background(), p, backend.CmdGet, backend.Request{})
	require.NoError(t, err)
	assert.Equal(t, "third time", got)
	assert.Equal(t, int32(3), a.calls.Load(), "every round starts from the first backend")
}

func TestProcess_RetryBudgetExhausted(t *testing.T) {
	b := getter("tapis", always("", errs.Transient(errs.ErrKindConnectionFailed, "refused", nil)))
	p := newProcessor(t, []string{"tapis"}, b)

	start := time.Now()
	_, err := p.Process(context.Background(), backend.CmdGet, backend.Request{})
	require.Error(t, err)
	assert.True(t, errs.IsProcessingFailed(err))
	assert.True(t, errs.IsRetryable(err))
	assert.True(t, errs.IsConnectionFailed(err))
	assert.Greater(t, b.calls.Load(), int32(1))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProcess_Cancelled(t *testing.T) {
	b := getter("tapis", always("", errs.Transient(errs.ErrKindConnectionFailed, "refused", nil)))
	reg, err := NewRegistry(b)
	require.NoError(t, err)
	p := New(reg, config.Default(), WithOrder("tapis"),
		WithRetryPolicy(retry.Policy{MaxElapsed: time.Hour, BaseDelay: 50 * time.Millisecond}))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = p.Process(ctx, backend.CmdGet, backend.Request{})
	assert.True(t, errs.IsTimeout(err))
}

func TestRun_TypeMismatch(t *testing.T) {
	p := newProcessor(t, nil, getter("direct", always("x", nil)))
	_, err := Run[bool](context.Background(), p, backend.CmdGet, backend.Request{})
	assert.True(t, errs.IsProcessingFailed(err))
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(getter("direct", nil), getter("tapis", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"direct", "tapis"}, reg.Names())

	err = reg.Register(getter("direct", nil))
	assert.True(t, errs.IsInvalidInput(err))
	assert.True(t, errs.IsInvalidInput(reg.Register(getter("", nil))))

	_, ok := reg.Get("tapis")
	assert.True(t, ok)
}
