package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "backend.base_url", typ: kString, env: "BUCKETCHAT_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "identity.base_url", typ: kString, env: "BUCKETCHAT_IDENTITY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Identity.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.BaseURL },
	},
	{
		key: "identity.api_key", typ: kString, env: "BUCKETCHAT_IDENTITY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Identity.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.APIKey },
	},
	{
		key: "credential.storage_key", typ: kString, env: "BUCKETCHAT_CREDENTIAL_STORAGE_KEY",
		apply:   func(cfg *Config, v any) { cfg.Credential.StorageKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Credential.StorageKey },
	},
	{
		key: "credential.refresh_threshold", typ: kDuration, env: "BUCKETCHAT_CREDENTIAL_REFRESH_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Credential.RefreshThreshold = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Credential.RefreshThreshold },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BUCKETCHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "poller.interval", typ: kDuration, env: "BUCKETCHAT_POLLER_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poller.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poller.Interval },
	},
	{
		key: "poller.min_elapsed", typ: kDuration, env: "BUCKETCHAT_POLLER_MIN_ELAPSED",
		apply:   func(cfg *Config, v any) { cfg.Poller.MinElapsed = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poller.MinElapsed },
	},
	{
		key: "poller.max_polls", typ: kInt, env: "BUCKETCHAT_POLLER_MAX_POLLS",
		apply:   func(cfg *Config, v any) { cfg.Poller.MaxPolls = v.(int) },
		extract: func(cfg Config) any { return cfg.Poller.MaxPolls },
	},
	{
		key: "chat.inference_timeout", typ: kDuration, env: "BUCKETCHAT_CHAT_INFERENCE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Chat.InferenceTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Chat.InferenceTimeout },
	},
	{
		key: "chat.history_turns", typ: kInt, env: "BUCKETCHAT_CHAT_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Chat.HistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.HistoryTurns },
	},
	{
		key: "ingest.chunk_size", typ: kInt, env: "BUCKETCHAT_INGEST_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkSize },
	},
	{
		key: "ingest.chunk_overlap", typ: kInt, env: "BUCKETCHAT_INGEST_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkOverlap },
	},
	{
		key: "log.level", typ: kString, env: "BUCKETCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
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
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("invalid duration for %s: %w", s.key, err)
				}
				s.apply(cfg, d)
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
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
