// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config implements the coordinator's layered configuration:
// command-line flags override a config file, which overrides built-in
// defaults, via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the coordinator binary's run-time settings.
type Config struct {
	DAGPath     string        `mapstructure:"dag"`
	RescuePath  string        `mapstructure:"rescue"`
	JobstateLog string        `mapstructure:"jobstate-log"`
	DagmanLog   string        `mapstructure:"dagman-log"`
	Listen      string        `mapstructure:"listen"`
	NumWorkers  int           `mapstructure:"workers"`
	MaxWallTime time.Duration `mapstructure:"max-wall-time"`
	FDCacheSize int           `mapstructure:"fd-cache-size"`
	MaxRetries  int           `mapstructure:"max-retries"`
	LogFormat   string        `mapstructure:"log-format"`
	Debug       bool          `mapstructure:"debug"`
}

// Defaults returns the built-in defaults, applied before the config
// file and flags are layered on top.
func Defaults() Config {
	return Config{
		Listen:      ":7085",
		NumWorkers:  1,
		MaxWallTime: 0,
		FDCacheSize: 0,
		MaxRetries:  1,
		LogFormat:   "text",
	}
}

// Load reads Config from v, which the caller has already populated
// from a config file (if any) and bound command-line flags onto, per
// viper's usual precedence: flag > config file > default.
func Load(v *viper.Viper) (Config, error) {
	cfg := Defaults()

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	if cfg.DAGPath == "" {
		return Config{}, fmt.Errorf("config: dag path is required")
	}
	if cfg.NumWorkers < 1 {
		return Config{}, fmt.Errorf("config: workers must be at least 1, got %d", cfg.NumWorkers)
	}
	return cfg, nil
}
