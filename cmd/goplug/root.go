package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/goplug/config"
)

var rootCmd = &cobra.Command{
	Use:   "goplug",
	Short: "Host a Starlark plugin module",
	Long: `goplug - Embed a Starlark module and drive it from the host.

The entry module (<dir>/<module>.star) is executed once into a persistent
root namespace. Functions defined there can then be called, probed and
evaluated against, and the module is reloaded when it changes on disk.

Native extensions are registered before the module runs: the json, math
and time libraries, host functions (kv, fs, http) and WebAssembly modules.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Configuration file (YAML)")
	pf.String("dir", "", "Directory holding the entry module")
	pf.StringP("module", "m", "", "Entry module name, without .star")
	pf.Bool("reload", false, "Reload the module on access when it changed")
	pf.StringSlice("search-path", nil, "Extra directory for load() (repeatable)")
	pf.Duration("call-timeout", 0, "Interrupt script calls running longer than this")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text, json")

	pf.StringSlice("ext", nil, "Standard extension to register: json, math, time (repeatable)")
	pf.Bool("kv", false, "Enable the kv_* host functions")
	pf.String("kv-path", "", "SQLite database for kv entries (implies --kv)")
	pf.StringSlice("mount", nil, "Mount filesystem virtual:host[:ro|rw|rwc] (repeatable)")
	pf.StringSlice("allow-host", nil, "Allow http_* requests to host (repeatable)")
	pf.StringSlice("wasm", nil, "Load a WebAssembly extension name=path (repeatable)")
	pf.String("wasm-cache", "", "Directory for the WebAssembly compilation cache")
}

// loadConfig reads --config, then lets explicitly set flags win, then
// validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("dir") {
		cfg.Module.Dir, _ = flags.GetString("dir")
	}
	if flags.Changed("module") {
		cfg.Module.Name, _ = flags.GetString("module")
	}
	if flags.Changed("reload") {
		cfg.Module.Reload, _ = flags.GetBool("reload")
	}
	if flags.Changed("call-timeout") {
		cfg.Module.CallTimeout, _ = flags.GetDuration("call-timeout")
	}
	if dirs, _ := flags.GetStringSlice("search-path"); len(dirs) > 0 {
		cfg.Module.SearchPath = append(cfg.Module.SearchPath, dirs...)
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}

	ext := &cfg.Extensions
	if names, _ := flags.GetStringSlice("ext"); len(names) > 0 {
		ext.Standard = append(ext.Standard, names...)
	}
	if enabled, _ := flags.GetBool("kv"); enabled {
		ext.KV.Enabled = true
	}
	if kvPath, _ := flags.GetString("kv-path"); kvPath != "" {
		ext.KV.Enabled = true
		ext.KV.Path = kvPath
	}
	if mounts, _ := flags.GetStringSlice("mount"); len(mounts) > 0 {
		ext.FS.Mounts = append(ext.FS.Mounts, mounts...)
	}
	if hosts, _ := flags.GetStringSlice("allow-host"); len(hosts) > 0 {
		ext.HTTP.AllowedHosts = append(ext.HTTP.AllowedHosts, hosts...)
	}
	wasm, _ := flags.GetStringSlice("wasm")
	for _, spec := range wasm {
		w, err := parseWASM(spec)
		if err != nil {
			return nil, err
		}
		ext.WASM = append(ext.WASM, w)
	}
	if dir, _ := flags.GetString("wasm-cache"); dir != "" {
		ext.WASMCacheDir = dir
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseWASM(spec string) (config.WASMConfig, error) {
	name, path, ok := strings.Cut(spec, "=")
	if !ok || name == "" || path == "" {
		return config.WASMConfig{}, fmt.Errorf("invalid wasm spec %q (expected name=path)", spec)
	}
	return config.WASMConfig{Name: name, Path: path}, nil
}

// splitTarget turns "mod.fn" into ("mod", "fn") and "fn" into ("", "fn").
func splitTarget(target string) (module, function string) {
	if i := strings.LastIndex(target, "."); i >= 0 {
		return target[:i], target[i+1:]
	}
	return "", target
}
