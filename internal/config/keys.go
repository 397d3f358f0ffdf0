package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MNEMO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MNEMO_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "memory.max_entries", typ: kInt, env: "MNEMO_MEMORY_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Memory.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.MaxEntries },
	},
	{
		key: "memory.episode_retention_days", typ: kInt, env: "MNEMO_MEMORY_EPISODE_RETENTION_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Memory.EpisodeRetentionDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.EpisodeRetentionDays },
	},
	{
		key: "memory.fact_unused_days", typ: kInt, env: "MNEMO_MEMORY_FACT_UNUSED_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Memory.FactUnusedDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.FactUnusedDays },
	},
	{
		key: "memory.profile_retention_days", typ: kInt, env: "MNEMO_MEMORY_PROFILE_RETENTION_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Memory.ProfileRetentionDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.ProfileRetentionDays },
	},
	{
		key: "memory.association_threshold", typ: kFloat, env: "MNEMO_MEMORY_ASSOCIATION_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Memory.AssociationThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Memory.AssociationThreshold },
	},
	{
		key: "janitor.cleanup_interval", typ: kString, env: "MNEMO_JANITOR_CLEANUP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Janitor.CleanupInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Janitor.CleanupInterval },
	},
	{
		key: "janitor.poll_interval", typ: kString, env: "MNEMO_JANITOR_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Janitor.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Janitor.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "MNEMO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
