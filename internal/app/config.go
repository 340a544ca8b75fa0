package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ConfigPaths are HCL files or directories of them.
	ConfigPaths []string

	LogFormat string
	LogLevel  string
	// LogFile overrides the JSON run log written into the workspace log
	// directory. "-" disables it.
	LogFile string

	HealthcheckPort int
}

// NewConfig validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.ConfigPaths) == 0 {
		return nil, errors.New("at least one configuration path is required")
	}
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return nil, errors.New("log format must be text or json")
	}
	return &cfg, nil
}
