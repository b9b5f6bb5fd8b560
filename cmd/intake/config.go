// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration decodes yaml values like "10s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the service configuration loaded from config.yaml.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr" validate:"required"`

	// RateLimitRPS caps /v1 requests per second. Zero disables.
	RateLimitRPS float64 `yaml:"rate_limit_rps" validate:"gte=0"`

	// Burst is the rate limiter burst size.
	Burst int `yaml:"burst" validate:"gte=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	// Path is the badger data directory. Ignored when InMemory is set.
	Path string `yaml:"path" validate:"required_unless=InMemory true"`

	// InMemory runs storage without persistence, for development.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites trades write throughput for durability.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is the value-log garbage collection cadence.
	GCInterval Duration `yaml:"gc_interval"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir enables JSON file logging.
	Dir string `yaml:"dir"`

	JSON  bool `yaml:"json"`
	Quiet bool `yaml:"quiet"`
}

// DefaultConfig is the configuration used when no config file exists.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimitRPS:    50,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Path:       "./data/intake",
			GCInterval: Duration(5 * time.Minute),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads and validates the yaml config at path. A missing
// file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}
