package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/bucketchat/internal/auth"
	"github.com/kalambet/bucketchat/internal/chat"
	"github.com/kalambet/bucketchat/internal/client"
	"github.com/kalambet/bucketchat/internal/config"
	"github.com/kalambet/bucketchat/internal/credential"
	"github.com/kalambet/bucketchat/internal/sources"
	"github.com/kalambet/bucketchat/internal/storage"
)

var errNotSignedIn = errors.New("not signed in: run `bucketchat login` first")

// app holds everything a command needs, wired from one config.
type app struct {
	cfg      config.Config
	db       *storage.Store
	creds    *credential.KVStore
	provider *auth.Provider
	client   *client.Client
	sources  *sources.API
	poller   *sources.Poller
	chat     *chat.API
	local    *chat.Local
	orch     *chat.Orchestrator
}

var newApp = func() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Log.Level)

	db, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return buildApp(cfg, db), nil
}

func buildApp(cfg config.Config, db *storage.Store) *app {
	logger := slog.Default()
	a := &app{cfg: cfg, db: db}

	a.creds = credential.NewKVStore(db, cfg.Credential.StorageKey)
	a.provider = auth.NewProvider(cfg.Identity.BaseURL, cfg.Identity.APIKey)
	a.client = client.New(cfg.Backend.BaseURL, a.creds, auth.NewRefresher(a.provider, a.creds), client.Options{
		RefreshThreshold: cfg.Credential.RefreshThreshold,
		OnSessionExpired: func() {
			printWarning("Session expired. Run `bucketchat login` to sign in again.")
		},
		Logger: logger,
	})

	a.sources = sources.NewAPI(a.client, sources.Chunking{Size: cfg.Ingest.ChunkSize, Overlap: cfg.Ingest.ChunkOverlap})
	a.poller = sources.NewPoller(a.sources, sources.PollerOptions{
		Interval:   cfg.Poller.Interval,
		MinElapsed: cfg.Poller.MinElapsed,
		MaxPolls:   cfg.Poller.MaxPolls,
		Abort:      client.IsSessionExpired,
		Logger:     logger,
	})

	a.chat = chat.NewAPI(a.client)
	a.local = chat.NewLocal(db, logger)
	a.orch = chat.NewOrchestrator(a.chat, a.sources, chat.Options{
		InferenceTimeout: cfg.Chat.InferenceTimeout,
		HistoryTurns:     cfg.Chat.HistoryTurns,
		OnStateChange: func(_ *chat.Conversation, s chat.State) {
			if s == chat.StateAwaitInference {
				printStep("Thinking...")
			}
		},
		Logger: logger,
	})
	return a
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}

func (a *app) requireSignedIn() error {
	if a.creds.Read() == nil {
		return errNotSignedIn
	}
	return nil
}

// withApp opens the app for one command and closes it afterwards.
func withApp(signedIn bool, fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if signedIn {
		if err := a.requireSignedIn(); err != nil {
			return err
		}
	}
	return fn(a)
}
