package wasmext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// ErrClosed is returned when loading into a closed Runtime.
var ErrClosed = errors.New("wasmext: runtime closed")

// Runtime compiles and instantiates WASM modules that back native
// extensions. One Runtime can host many modules; it must outlive the bridge
// that calls into them.
type Runtime struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	logger  *slog.Logger

	mu      sync.Mutex
	modules map[string]*Module
	closed  bool
}

// New creates a Runtime with WASI preview1 available to guests.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var cache wazero.CompilationCache
	if cfg.diskCache {
		dir := cfg.cacheDir
		if dir == "" {
			dir = defaultCacheDir()
		}
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	return &Runtime{
		runtime: rt,
		cache:   cache,
		logger:  cfg.logger,
		modules: make(map[string]*Module),
	}, nil
}

// LoadFile reads, compiles and instantiates the module at path under name.
func (r *Runtime) LoadFile(ctx context.Context, name, path string) (*Module, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return r.Load(ctx, name, wasm)
}

// Load compiles and instantiates wasm under name. Reactor modules have their
// _initialize export run; command modules are not started.
func (r *Runtime) Load(ctx context.Context, name string, wasm []byte) (*Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if name == "" {
		return nil, errors.New("wasmext: module name required")
	}
	if _, dup := r.modules[name]; dup {
		return nil, fmt.Errorf("wasmext: module %q already loaded", name)
	}

	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	modConfig := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize").
		WithStdout(os.Stderr).
		WithStderr(os.Stderr)

	inst, err := r.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate %s: %w", name, err)
	}

	m := &Module{name: name, inst: inst, funcs: make(map[string]api.FunctionDefinition)}
	for export, def := range compiled.ExportedFunctions() {
		if !supported(def) {
			r.logger.Debug("wasm export skipped: unsupported signature",
				"module", name,
				"function", export,
			)
			continue
		}
		m.funcs[export] = def
	}
	r.modules[name] = m

	r.logger.Info("wasm module loaded", "module", name, "functions", m.Functions())
	return m, nil
}

// Close releases every module, the runtime and the compilation cache.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if err := r.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if r.cache != nil {
		if err := r.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Module is one instantiated WASM module.
type Module struct {
	name  string
	inst  api.Module
	funcs map[string]api.FunctionDefinition
}

// Name returns the name the module was loaded under.
func (m *Module) Name() string { return m.name }

// Functions returns the sorted exports exposed to scripts.
func (m *Module) Functions() []string {
	names := make([]string, 0, len(m.funcs))
	for name := range m.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func supported(def api.FunctionDefinition) bool {
	for _, t := range def.ParamTypes() {
		if !numeric(t) {
			return false
		}
	}
	for _, t := range def.ResultTypes() {
		if !numeric(t) {
			return false
		}
	}
	return true
}

func numeric(t api.ValueType) bool {
	switch t {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		return true
	}
	return false
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "goplug")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "goplug")
	}
	return filepath.Join(os.TempDir(), "goplug-cache")
}
