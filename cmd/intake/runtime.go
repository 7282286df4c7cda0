package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/client-intake/frontend/internal/api"
	"github.com/client-intake/frontend/internal/backend"
	"github.com/client-intake/frontend/internal/config"
	"github.com/client-intake/frontend/internal/flow"
	"github.com/client-intake/frontend/internal/history"
	"github.com/client-intake/frontend/internal/messages"
	"github.com/client-intake/frontend/internal/session"
	"github.com/client-intake/frontend/internal/storage"
)

// runtime is the wired set of services shared by serve and tui.
type runtime struct {
	catalog  *messages.Catalog
	client   *backend.Client
	store    *storage.LocalStore
	history  *history.Store // nil when disabled
	sessions *session.Manager
}

func newRuntime(cfg *config.AppConfig, logger *zap.Logger) (*runtime, error) {
	catalog, err := messages.Load(cfg.Intake.Locale, cfg.Intake.MessagesFile)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewLocalStore(cfg.GetUploadDir(), cfg.GetMaxUploadSize())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if n, err := store.PurgeOrphans(); err != nil {
		logger.Warn("purging staged files failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("purged staged files from previous run", zap.Int("count", n))
	}

	rt := &runtime{
		catalog: catalog,
		client:  backend.NewClient(cfg.Backend.BaseURL, cfg.GetBackendTimeout(), logger),
		store:   store,
	}

	var recorder session.Recorder
	if cfg.Storage.EnableHistory {
		rt.history, err = history.Open(cfg.Storage.HistoryDatabase, history.Options{
			Threads:     cfg.Advanced.DuckDBThreads,
			MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		recorder = rt.history
	}

	rt.sessions = session.NewManager(flow.NewMachine(cfg.FlowRules()), rt.client, store, recorder, logger)
	rt.sessions.SetMaxSessions(cfg.Intake.MaxSessions)
	return rt, nil
}

// attemptLog returns nil, not a typed nil, when history is disabled.
func (rt *runtime) attemptLog() api.AttemptLog {
	if rt.history == nil {
		return nil
	}
	return rt.history
}

func (rt *runtime) Close() error {
	if rt.history != nil {
		return rt.history.Close()
	}
	return nil
}
