package wasmext

import "log/slog"

// Option configures a Runtime.
type Option func(*config)

type config struct {
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32
	logger           *slog.Logger
}

func defaultConfig() config {
	return config{logger: slog.Default()}
}

// WithDiskCache persists compiled modules across processes. An empty dir
// uses $XDG_CACHE_HOME/goplug or ~/.cache/goplug.
func WithDiskCache(dir string) Option {
	return func(c *config) {
		c.diskCache = true
		c.cacheDir = dir
	}
}

// WithMemoryLimitPages caps guest memory in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
