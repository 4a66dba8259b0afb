package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GOPLUG_"

// Load reads the YAML file at path, applies defaults and then environment
// overrides. An empty path yields the defaults plus overrides. The result is
// not validated: callers merge command-line flags first and then call Validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty file decodes to io.EOF.
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies GOPLUG_SECTION_FIELD variables. Malformed
// booleans and durations are ignored.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "MODULE_DIR"); val != "" {
		cfg.Module.Dir = val
	}
	if val := os.Getenv(EnvPrefix + "MODULE_NAME"); val != "" {
		cfg.Module.Name = val
	}
	if val := os.Getenv(EnvPrefix + "MODULE_RELOAD"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Module.Reload = b
		}
	}
	if val := os.Getenv(EnvPrefix + "MODULE_CALL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Module.CallTimeout = d
		}
	}

	if val := os.Getenv(EnvPrefix + "LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(EnvPrefix + "LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv(EnvPrefix + "SERVER_ADDRESS"); val != "" {
		cfg.Server.Address = val
	}

	if val := os.Getenv(EnvPrefix + "KV_PATH"); val != "" {
		cfg.Extensions.KV.Enabled = true
		cfg.Extensions.KV.Path = val
	}
}
