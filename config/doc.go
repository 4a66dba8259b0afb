// Package config loads the goplug host configuration from YAML, applies
// defaults and GOPLUG_* environment overrides, validates it, and builds the
// process logger.
//
//	cfg, err := config.Load("goplug.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.Validate(cfg); err != nil {
//	    return err
//	}
//	logger, err := config.NewLogger(cfg.Logging, os.Stderr)
package config
