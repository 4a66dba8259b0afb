package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.starlark.net/starlark"

	"github.com/caffeineduck/goplug/plugin"
)

// Runner serializes every call into a bridge and enforces per-call deadlines.
// It is safe for concurrent use.
type Runner struct {
	mu          sync.Mutex
	bridge      *plugin.Bridge
	logger      *slog.Logger
	callTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCallTimeout interrupts Eval and Call after d. Zero disables the limit;
// a deadline on the caller's context still applies.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.callTimeout = d
	}
}

// NewRunner wraps a bridge that has been set up and had its extensions
// registered.
func NewRunner(b *plugin.Bridge, opts ...Option) *Runner {
	r := &Runner{
		bridge: b,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "host.runner")
	return r
}

// Bridge returns the wrapped bridge. Callers must not use it concurrently
// with the Runner.
func (r *Runner) Bridge() *plugin.Bridge {
	return r.bridge
}

// Start performs the cold start of the entry module.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, stop := r.guard(ctx)
	err := r.bridge.Initialize(false)
	return r.settle(ctx, stop, err)
}

// Eval evaluates code in the root namespace.
func (r *Runner) Eval(ctx context.Context, code string) (starlark.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, stop := r.guard(ctx)
	v, err := r.bridge.EvaluateString(code)
	return v, r.settle(ctx, stop, err)
}

// Call invokes module.function, or a root-level function when module is empty.
func (r *Runner) Call(ctx context.Context, module, function string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, stop := r.guard(ctx)
	v, err := r.bridge.Call(module, function, args, kwargs)
	return v, r.settle(ctx, stop, err)
}

// IsCallable reports whether module.function can be called.
func (r *Runner) IsCallable(module, function string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.bridge.IsCallable(module, function)
}

// Reload re-executes the entry module if it changed on disk.
func (r *Runner) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, stop := r.guard(ctx)
	err := r.bridge.Reload()
	return r.settle(ctx, stop, err)
}

// Status is a snapshot of the bridge for diagnostics.
type Status struct {
	State         string    `json:"state"`
	Module        string    `json:"module"`
	Path          string    `json:"path"`
	ModTime       time.Time `json:"mtime"`
	Reload        bool      `json:"reload"`
	Extensions    []string  `json:"extensions"`
	Names         []string  `json:"names"`
	LastError     string    `json:"last_error,omitempty"`
	LastException string    `json:"last_exception,omitempty"`
}

// Status returns the current bridge state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bridge
	return Status{
		State:         b.State().String(),
		Module:        b.ModuleName(),
		Path:          b.ModulePath(),
		ModTime:       b.ModTime(),
		Reload:        b.ReloadOnAccess(),
		Extensions:    b.Extensions(),
		Names:         b.Names(),
		LastError:     b.LastError(),
		LastException: b.LastException(),
	}
}

// LastException returns the most recent formatted script exception.
func (r *Runner) LastException() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.bridge.LastException()
}

// guard interrupts the bridge when ctx ends or the call timeout elapses.
// The returned stop function must be called once the bridge call returns;
// it waits for the watchdog so a late Interrupt cannot hit the next call.
func (r *Runner) guard(parent context.Context) (ctx context.Context, stop func()) {
	var cancel context.CancelFunc
	if r.callTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, r.callTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			r.logger.Warn("interrupting script", "reason", ctx.Err())
			r.bridge.Interrupt(ctx.Err().Error())
		case <-done:
		}
	}()

	return ctx, func() {
		close(done)
		<-exited
		cancel()
	}
}

// settle stops the watchdog and attaches the context error to a failure
// caused by an interrupt.
func (r *Runner) settle(ctx context.Context, stop func(), err error) error {
	var ctxErr error
	if err != nil {
		ctxErr = ctx.Err()
	}
	stop()
	if err == nil {
		return nil
	}
	if ctxErr != nil {
		return fmt.Errorf("%w: %w", err, ctxErr)
	}
	return err
}
