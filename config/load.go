package config

import (
	"encoding/json"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
)

// Load builds the configuration in three layers: defaults, then the JSON
// file at path (optional when path is empty), then environment overrides.
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "parse config file")
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "apply environment overrides")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
