package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/goplug/config"
	"github.com/caffeineduck/goplug/hostfunc"
	"github.com/caffeineduck/goplug/internal/host"
	"github.com/caffeineduck/goplug/plugin"
	"github.com/caffeineduck/goplug/wasmext"
)

// openBridge returns the bridge the commands drive.
var openBridge = plugin.Instance

// app is a configured bridge plus everything that has to be closed with it.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *prometheus.Registry
	bridge  *plugin.Bridge
	runner  *host.Runner
	wasm    *wasmext.Runtime
	closers []io.Closer
}

// newApp loads the configuration, sets up the bridge and registers every
// configured extension. The module has not been executed yet.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := config.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	b := openBridge(
		plugin.WithLogger(logger),
		plugin.WithMetrics(plugin.NewMetrics(reg)),
		plugin.WithVerbose(cfg.Module.Verbose),
		plugin.WithSearchPath(cfg.Module.SearchPath...),
		plugin.WithPrintWriter(cmd.OutOrStdout()),
	)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: reg,
		bridge:  b,
	}

	if err := b.Setup(cfg.Module.Dir, cfg.Module.Name, cfg.Module.Reload); err != nil {
		return nil, err
	}
	if err := a.registerExtensions(cmd.Context()); err != nil {
		a.close()
		return nil, err
	}

	a.runner = host.NewRunner(b,
		host.WithLogger(logger),
		host.WithCallTimeout(cfg.Module.CallTimeout),
	)
	return a, nil
}

func (a *app) registerExtensions(ctx context.Context) error {
	ext := a.cfg.Extensions

	for _, name := range ext.Standard {
		fn, err := plugin.StandardExtension(name)
		if err != nil {
			return err
		}
		if err := a.bridge.RegisterExtension(name, fn); err != nil {
			return err
		}
	}

	registry := hostfunc.NewRegistry()
	hostfunc.RegisterTime(registry)

	if ext.KV.Enabled {
		kvCfg := hostfunc.KVConfig{
			MaxKeySize:   ext.KV.MaxKeySize,
			MaxValueSize: ext.KV.MaxValueSize,
			MaxEntries:   ext.KV.MaxEntries,
		}
		if ext.KV.Path != "" {
			store, err := hostfunc.NewSQLiteStore(ext.KV.Path)
			if err != nil {
				return fmt.Errorf("kv store: %w", err)
			}
			a.closers = append(a.closers, store)
			kvCfg.Store = store
		}
		hostfunc.NewKV(kvCfg).Register(registry)
	}

	if len(ext.FS.Mounts) > 0 {
		mounts := make([]hostfunc.Mount, 0, len(ext.FS.Mounts))
		for _, spec := range ext.FS.Mounts {
			m, err := hostfunc.ParseMount(spec)
			if err != nil {
				return err
			}
			mounts = append(mounts, m)
		}
		hostfunc.NewFS(mounts).Register(registry)
	}

	if len(ext.HTTP.AllowedHosts) > 0 {
		hostfunc.NewHTTP(hostfunc.HTTPConfig{
			AllowedHosts:   ext.HTTP.AllowedHosts,
			MaxBodySize:    ext.HTTP.MaxBodySize,
			RequestTimeout: ext.HTTP.Timeout,
		}).Register(registry)
	}

	if err := a.bridge.RegisterExtension(ext.HostModule, registry.Extension(ctx)); err != nil {
		return err
	}

	if len(ext.WASM) == 0 {
		return nil
	}

	opts := []wasmext.Option{wasmext.WithLogger(a.logger)}
	if ext.WASMCacheDir != "" {
		opts = append(opts, wasmext.WithDiskCache(ext.WASMCacheDir))
	}
	rt, err := wasmext.New(ctx, opts...)
	if err != nil {
		return err
	}
	a.wasm = rt

	for _, w := range ext.WASM {
		mod, err := rt.LoadFile(ctx, w.Name, w.Path)
		if err != nil {
			return err
		}
		if err := a.bridge.RegisterExtension(w.Name, mod.Extension(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// start executes the entry module. A failed load still leaves the app usable
// for evaluation, so callers decide whether the error is fatal.
func (a *app) start(ctx context.Context) error {
	return a.runner.Start(ctx)
}

// watchDirs returns the module directory followed by the search path.
func (a *app) watchDirs() []string {
	dirs := []string{filepath.Dir(a.bridge.ModulePath())}
	return append(dirs, a.cfg.Module.SearchPath...)
}

func (a *app) close() error {
	var errs []error
	if a.wasm != nil {
		errs = append(errs, a.wasm.Close(context.Background()))
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
