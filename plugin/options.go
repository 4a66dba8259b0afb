package plugin

import (
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.starlark.net/syntax"
)

const tracerName = "github.com/caffeineduck/goplug/plugin"

// Option configures the bridge. Options only take effect on the call to
// Instance that constructs it.
type Option func(*bridgeConfig)

type bridgeConfig struct {
	logger      *slog.Logger
	verbose     bool
	printWriter io.Writer
	metrics     *Metrics
	tracer      trace.Tracer
	fileOptions *syntax.FileOptions
	searchPath  []string
}

func defaultBridgeConfig() bridgeConfig {
	return bridgeConfig{
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		fileOptions: DefaultFileOptions(),
	}
}

// DefaultFileOptions returns the dialect used for entry modules and evaluated
// strings: top-level control flow, while loops, sets, recursion and global
// reassignment are all allowed, which keeps the language close to Python.
func DefaultFileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *bridgeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithVerbose logs every IsCallable result at debug level.
func WithVerbose(verbose bool) Option {
	return func(c *bridgeConfig) {
		c.verbose = verbose
	}
}

// WithPrintWriter sends script print() output to w instead of the logger.
func WithPrintWriter(w io.Writer) Option {
	return func(c *bridgeConfig) {
		c.printWriter = w
	}
}

// WithMetrics records operation counters and latencies.
func WithMetrics(m *Metrics) Option {
	return func(c *bridgeConfig) {
		c.metrics = m
	}
}

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *bridgeConfig) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithFileOptions overrides the Starlark dialect.
func WithFileOptions(opts *syntax.FileOptions) Option {
	return func(c *bridgeConfig) {
		if opts != nil {
			c.fileOptions = opts
		}
	}
}

// WithSearchPath adds directories searched by load() after the entry
// module's own directory.
//
// Examples:
//
//	plugin.Instance(plugin.WithSearchPath("/usr/share/goplug/lib"))
//	plugin.Instance(plugin.WithSearchPath("./lib", "./vendor"))
func WithSearchPath(dirs ...string) Option {
	return func(c *bridgeConfig) {
		c.searchPath = append(c.searchPath, dirs...)
	}
}
