package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment names read by Load.
const (
	EnvConfigPath = "PIXRECO_CONFIG"
	EnvPrefix     = "PIXRECO_"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PIXRECO_CONFIG is set
//  3. env (prefix PIXRECO_)
//
// Env keys are lower-cased after the prefix and a double underscore descends
// one level: PIXRECO_CLUSTERING__TRIM_RADIUS sets clustering.trim_radius.
//
// Models, detectors and particle classes from the file replace the defaults
// as a whole.
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	// Collections decode element-wise into existing values, so they start
	// empty and fall back to the defaults afterwards.
	cfg := *base
	cfg.Models = nil
	cfg.Detectors = nil
	cfg.Analysis.Classes = nil
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if len(cfg.Models) == 0 {
		cfg.Models = base.Models
	}
	if len(cfg.Detectors) == 0 {
		cfg.Detectors = base.Detectors
	}
	if !k.Exists("analysis.classes") {
		cfg.Analysis.Classes = base.Analysis.Classes
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
