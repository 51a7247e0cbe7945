package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Backend    BackendConfig
	Identity   IdentityConfig
	Credential CredentialConfig
	Storage    StorageConfig
	Poller     PollerConfig
	Chat       ChatConfig
	Ingest     IngestConfig
	Log        LogConfig
}

type BackendConfig struct {
	BaseURL string
}

type IdentityConfig struct {
	BaseURL string
	APIKey  string
}

type CredentialConfig struct {
	StorageKey       string
	RefreshThreshold time.Duration
}

type StorageConfig struct {
	DataDir string
}

type PollerConfig struct {
	Interval   time.Duration
	MinElapsed time.Duration
	MaxPolls   int
}

type ChatConfig struct {
	InferenceTimeout time.Duration
	HistoryTurns     int
}

type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
		},
		Identity: IdentityConfig{
			BaseURL: "http://localhost:8000/auth/v1",
		},
		Credential: CredentialConfig{
			StorageKey:       "bucketchat.credential",
			RefreshThreshold: 60 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Poller: PollerConfig{
			Interval:   4 * time.Second,
			MinElapsed: 20 * time.Second,
			MaxPolls:   75,
		},
		Chat: ChatConfig{
			InferenceTimeout: 60 * time.Second,
			HistoryTurns:     4,
		},
		Ingest: IngestConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/bucketchat/config.json and applies BUCKETCHAT_*
// environment overrides on top.
//
// The identity API key is a secret and is only read from the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for name, raw := range map[string]string{
		"backend.base_url":  c.Backend.BaseURL,
		"identity.base_url": c.Identity.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid config: %s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.Credential.StorageKey == "" {
		return fmt.Errorf("invalid config: credential.storage_key must not be empty")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("invalid config: poller.interval must be positive")
	}
	if c.Poller.MaxPolls <= 0 {
		return fmt.Errorf("invalid config: poller.max_polls must be positive")
	}
	if c.Chat.InferenceTimeout <= 0 {
		return fmt.Errorf("invalid config: chat.inference_timeout must be positive")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("invalid config: ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	return nil
}
