package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/caffeineduck/goplug/hostfunc"
	"github.com/caffeineduck/goplug/plugin"
)

// FieldError is a validation failure for one configuration field.
type FieldError struct {
	// Field is the dotted path, e.g. "module.name".
	Field string

	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks the whole configuration and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []FieldError
	errs = append(errs, validateModule(&cfg.Module)...)
	errs = append(errs, validateExtensions(&cfg.Extensions)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateSchedule(cfg.Schedule)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateModule(cfg *ModuleConfig) []FieldError {
	var errs []FieldError
	switch {
	case cfg.Name == "":
		errs = append(errs, FieldError{"module.name", "is required"})
	case strings.ContainsAny(cfg.Name, `/\`):
		errs = append(errs, FieldError{"module.name", "must not contain path separators; use module.dir"})
	case strings.HasSuffix(cfg.Name, plugin.ModuleExt):
		errs = append(errs, FieldError{"module.name", fmt.Sprintf("must not include the %s extension", plugin.ModuleExt)})
	}
	if cfg.CallTimeout < 0 {
		errs = append(errs, FieldError{"module.call_timeout", "must not be negative"})
	}
	return errs
}

func validateExtensions(cfg *ExtensionsConfig) []FieldError {
	var errs []FieldError
	seen := map[string]string{cfg.HostModule: "extensions.host_module"}

	claim := func(name, field string) {
		if prev, dup := seen[name]; dup {
			errs = append(errs, FieldError{field, fmt.Sprintf("extension name %q already used by %s", name, prev)})
			return
		}
		seen[name] = field
	}

	for i, name := range cfg.Standard {
		field := fmt.Sprintf("extensions.standard[%d]", i)
		if _, err := plugin.StandardExtension(name); err != nil {
			errs = append(errs, FieldError{field, err.Error()})
			continue
		}
		claim(name, field)
	}

	for i, spec := range cfg.FS.Mounts {
		if _, err := hostfunc.ParseMount(spec); err != nil {
			errs = append(errs, FieldError{fmt.Sprintf("extensions.fs.mounts[%d]", i), err.Error()})
		}
	}

	if cfg.KV.MaxEntries < 0 || cfg.KV.MaxKeySize < 0 || cfg.KV.MaxValueSize < 0 {
		errs = append(errs, FieldError{"extensions.kv", "limits must not be negative"})
	}
	if cfg.HTTP.Timeout < 0 {
		errs = append(errs, FieldError{"extensions.http.timeout", "must not be negative"})
	}

	for i, w := range cfg.WASM {
		field := fmt.Sprintf("extensions.wasm[%d]", i)
		if w.Name == "" || w.Path == "" {
			errs = append(errs, FieldError{field, "name and path are required"})
			continue
		}
		claim(w.Name, field+".name")
	}
	return errs
}

func validateLogging(cfg *LoggingConfig) []FieldError {
	var errs []FieldError
	if _, err := ParseLevel(cfg.Level); err != nil {
		errs = append(errs, FieldError{"logging.level", err.Error()})
	}
	switch cfg.Format {
	case "text", "json":
	default:
		errs = append(errs, FieldError{"logging.format", fmt.Sprintf("unknown format %q (expected text or json)", cfg.Format)})
	}
	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.Address == "" {
		errs = append(errs, FieldError{"server.address", "is required"})
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{"server", "timeouts must not be negative"})
	}
	if cfg.MaxBodySize < 0 {
		errs = append(errs, FieldError{"server.max_body_size", "must not be negative"})
	}
	return errs
}

func validateSchedule(entries []ScheduleEntry) []FieldError {
	var errs []FieldError
	for i, e := range entries {
		field := fmt.Sprintf("schedule[%d]", i)
		if e.Function == "" {
			errs = append(errs, FieldError{field + ".function", "is required"})
		}
		if _, err := cron.ParseStandard(e.Spec); err != nil {
			errs = append(errs, FieldError{field + ".spec", err.Error()})
		}
	}
	return errs
}
