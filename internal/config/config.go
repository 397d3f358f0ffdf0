// Package config loads daemon configuration from a JSON file backend with
// environment overrides.
package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Memory  MemoryConfig
	Janitor JanitorConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type MemoryConfig struct {
	MaxEntries           int
	EpisodeRetentionDays int
	FactUnusedDays       int
	ProfileRetentionDays int
	AssociationThreshold float64
}

type JanitorConfig struct {
	CleanupInterval string
	PollInterval    string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Memory: MemoryConfig{
			MaxEntries:           100000,
			EpisodeRetentionDays: 365,
			FactUnusedDays:       180,
			ProfileRetentionDays: 365,
			AssociationThreshold: 0.7,
		},
		Janitor: JanitorConfig{
			CleanupInterval: "1h",
			PollInterval:    "500ms",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/mnemo/config.json with MNEMO_* environment variables
// taking precedence.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if _, err := cfg.Janitor.CleanupIntervalDuration(); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Janitor.PollIntervalDuration(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CleanupIntervalDuration parses the cleanup interval.
func (j JanitorConfig) CleanupIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(j.CleanupInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid janitor.cleanup_interval %q: %w", j.CleanupInterval, err)
	}
	return d, nil
}

// PollIntervalDuration parses the worker poll interval.
func (j JanitorConfig) PollIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(j.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid janitor.poll_interval %q: %w", j.PollInterval, err)
	}
	return d, nil
}
