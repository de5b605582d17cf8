package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// tables lists the maps a file replaces wholesale instead of merging.
type tables struct {
	FallbackRates map[string]float64 `yaml:"fallback_rates"`
	MinorUnits    map[string]int     `yaml:"minor_units"`
	Upstream      struct {
		Regions map[string]string `yaml:"regions"`
	} `yaml:"upstream"`
}

// Load reads a YAML file over the defaults, then applies options.
// Keys missing from the file keep their default values; a table given in the
// file (fallback_rates, minor_units, upstream.regions) replaces the default.
func Load(path string, options ...Option) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	var t tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if t.FallbackRates != nil {
		cfg.FallbackRates = t.FallbackRates
	}
	if t.MinorUnits != nil {
		cfg.MinorUnits = t.MinorUnits
	}
	if t.Upstream.Regions != nil {
		cfg.Upstream.Regions = t.Upstream.Regions
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}
