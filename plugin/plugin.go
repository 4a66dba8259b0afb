package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ModuleExt is appended to the module name given to Setup.
const ModuleExt = ".star"

// State is the lifecycle state of the entry module.
type State int

const (
	// StateUninitialized means Initialize has never run.
	StateUninitialized State = iota
	// StateFailed means the last load or reload raised. The namespace from an
	// earlier success, possibly partially overwritten, is still bound.
	StateFailed
	// StateReady means the last load or reload succeeded.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFailed:
		return "failed"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// noCopy trips go vet's copylocks check if a Bridge is copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Bridge embeds a Starlark interpreter, runs the entry module in a single
// root namespace and routes host calls into it.
//
// There is exactly one Bridge per process, obtained from Instance. It is
// never torn down. A Bridge performs no locking: the host must serialize
// every call.
type Bridge struct {
	_ noCopy

	cfg     bridgeConfig
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	state          State
	modulePath     string
	moduleName     string
	programName    string
	modTime        time.Time
	reloadOnAccess bool

	extensions []extension
	frozen     bool

	started bool
	thread  *starlark.Thread
	loader  *loader
	globals starlark.StringDict

	// live publishes thread to Interrupt, which may run on another goroutine.
	live atomic.Pointer[starlark.Thread]

	lastException string
	lastError     string
}

var (
	instance     *Bridge
	instanceOnce sync.Once
)

// Instance returns the process-wide bridge, constructing it on first use.
// Options passed after the first call are ignored.
func Instance(opts ...Option) *Bridge {
	instanceOnce.Do(func() {
		instance = New(opts...)
	})
	return instance
}

// New creates a bridge that is not the process-wide instance. Hosts embed
// Instance; New is for tools and tests that need isolated interpreters.
func New(opts ...Option) *Bridge {
	cfg := defaultBridgeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	b := &Bridge{
		cfg:     cfg,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
		state:   StateUninitialized,
	}
	b.metrics.setState(b.state)
	return b
}

// Setup names the entry module and records its modification time.
// The path is dir/name.star, or name.star relative to the working directory
// when dir is empty. It must be called once, before Initialize.
func (b *Bridge) Setup(dir, name string, reloadOnChange bool) error {
	const op = "setup"

	if b.started {
		return b.fail(op, ErrConfig, nil, "setup: interpreter already initialized")
	}
	if name == "" {
		return b.fail(op, ErrConfig, nil, "setup: no module defined")
	}

	raw := name + ModuleExt
	if dir != "" {
		raw = filepath.Join(dir, raw)
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return b.fail(op, ErrPath, err, "setup: cannot resolve path to '%s': %v", raw, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return b.fail(op, ErrPath, err, "setup: cannot resolve path to '%s': %v", raw, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return b.fail(op, ErrPath, err, "setup: stat(%s) returned %v", resolved, err)
	}
	if info.IsDir() {
		return b.fail(op, ErrPath, nil, "setup: '%s' is a directory", resolved)
	}

	b.moduleName = name
	b.modulePath = resolved
	b.programName = resolved
	b.modTime = info.ModTime().Truncate(time.Second)
	b.reloadOnAccess = reloadOnChange

	b.logger.Debug("module set up",
		"module", name,
		"path", resolved,
		"mtime", b.modTime,
		"reload_on_change", reloadOnChange,
	)
	return nil
}

// State returns the lifecycle state of the entry module.
func (b *Bridge) State() State { return b.state }

// LastError returns the most recent operational error text.
func (b *Bridge) LastError() string { return b.lastError }

// LastException returns the most recent formatted script exception.
func (b *Bridge) LastException() string { return b.lastException }

// ModulePath returns the canonical path of the entry module.
func (b *Bridge) ModulePath() string { return b.modulePath }

// ModuleName returns the logical module name passed to Setup.
func (b *Bridge) ModuleName() string { return b.moduleName }

// ModTime returns the modification time of the last loaded entry module,
// truncated to whole seconds.
func (b *Bridge) ModTime() time.Time { return b.modTime }

// ReloadOnAccess reports whether every operation checks for a newer module.
func (b *Bridge) ReloadOnAccess() bool { return b.reloadOnAccess }

// Names returns the sorted names bound in the root namespace.
func (b *Bridge) Names() []string {
	names := make([]string, 0, len(b.globals))
	for name := range b.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the value bound to name in the root namespace.
func (b *Bridge) Lookup(name string) (starlark.Value, bool) {
	v, ok := b.globals[name]
	return v, ok
}

// Interrupt cancels whatever script is running on the bridge thread. The
// running operation fails with an EvalError carrying reason. It is the only
// Bridge method that may be called concurrently with another one. Before
// the interpreter has started it does nothing.
func (b *Bridge) Interrupt(reason string) {
	if t := b.live.Load(); t != nil {
		t.Cancel(reason)
	}
}

// rearm clears a cancellation left over from an earlier Interrupt.
func (b *Bridge) rearm() {
	if b.thread != nil {
		b.thread.Uncancel()
	}
}

func (b *Bridge) fileOptions() *syntax.FileOptions {
	return b.cfg.fileOptions
}

func (b *Bridge) print(_ *starlark.Thread, msg string) {
	if b.cfg.printWriter != nil {
		fmt.Fprintln(b.cfg.printWriter, msg)
		return
	}
	b.logger.Info(msg, "source", "print", "module", b.moduleName)
}

// fail records an operational error and returns it.
func (b *Bridge) fail(op string, kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	b.lastError = msg
	return &Error{Op: op, Kind: kind, Msg: msg, Err: cause}
}

// raise records a script exception and returns it. Both diagnostic channels
// are written.
func (b *Bridge) raise(op string, kind, cause error, format string, args ...any) *Error {
	exc := FormatException(cause)
	b.lastException = exc.String()
	msg := fmt.Sprintf(format, args...) + b.lastException
	b.lastError = msg
	return &Error{Op: op, Kind: kind, Msg: msg, Exception: exc, Err: cause}
}
