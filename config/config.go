package config

import "time"

// Config is the complete goplug host configuration.
type Config struct {
	// Module names the entry module and how it is reloaded.
	Module ModuleConfig `yaml:"module"`

	// Extensions lists the native extensions registered before start.
	Extensions ExtensionsConfig `yaml:"extensions"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Server configures `goplug serve`.
	Server ServerConfig `yaml:"server"`

	// Schedule lists script functions called periodically.
	Schedule []ScheduleEntry `yaml:"schedule"`
}

// ModuleConfig locates the entry module.
type ModuleConfig struct {
	// Dir is the directory holding the module. Empty means the working directory.
	Dir string `yaml:"dir"`

	// Name is the module name without the .star extension.
	Name string `yaml:"name"`

	// Reload re-executes the module on access when its mtime moves forward.
	Reload bool `yaml:"reload"`

	// Watch triggers reloads from filesystem events as well.
	Watch bool `yaml:"watch"`

	// SearchPath adds directories searched by load().
	SearchPath []string `yaml:"search_path"`

	// CallTimeout interrupts a script call that runs longer. Zero disables it.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Verbose logs every is-callable probe at debug level.
	Verbose bool `yaml:"verbose"`
}

// ExtensionsConfig selects the extensions to register.
type ExtensionsConfig struct {
	// Standard lists Starlark library modules: json, math, time.
	Standard []string `yaml:"standard"`

	// HostModule is the extension name the host functions are bound under.
	HostModule string `yaml:"host_module"`

	KV   KVConfig     `yaml:"kv"`
	FS   FSConfig     `yaml:"fs"`
	HTTP HTTPConfig   `yaml:"http"`
	WASM []WASMConfig `yaml:"wasm"`

	// WASMCacheDir enables the on-disk compilation cache when set.
	WASMCacheDir string `yaml:"wasm_cache_dir"`
}

// KVConfig enables the kv_* host functions.
type KVConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path selects a SQLite database. Empty keeps entries in memory.
	Path string `yaml:"path"`

	MaxEntries   int `yaml:"max_entries"`
	MaxKeySize   int `yaml:"max_key_size"`
	MaxValueSize int `yaml:"max_value_size"`
}

// FSConfig enables the fs_* host functions.
type FSConfig struct {
	// Mounts are "virtual:host[:ro|rw|rwc]" specs.
	Mounts []string `yaml:"mounts"`
}

// HTTPConfig enables the http_* host functions.
type HTTPConfig struct {
	AllowedHosts []string      `yaml:"allowed_hosts"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodySize  int64         `yaml:"max_body_size"`
}

// WASMConfig loads one WASM module as an extension.
type WASMConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// ServerConfig configures the HTTP control server.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodySize  int64         `yaml:"max_body_size"`
}

// ScheduleEntry calls Module.Function on a cron schedule.
type ScheduleEntry struct {
	// Spec is a standard five-field cron expression or a descriptor such as "@every 30s".
	Spec string `yaml:"spec"`

	// Module is empty for root-level functions.
	Module   string `yaml:"module"`
	Function string `yaml:"function"`
}
