package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"ragchat/internal/config"
	"ragchat/internal/gemini"
	"ragchat/internal/host"
	"ragchat/internal/logging"
	"ragchat/internal/model"
	"ragchat/internal/session"
	"ragchat/internal/store"
)

const dbFileName = "ragchat.sqlite"

// completionDelay is how long the "All set!" state stays visible.
var completionDelay = session.DefaultCompletionDelay

// Runtime bundles the wired collaborators behind one controller.
type Runtime struct {
	Config     config.Config
	Controller *session.Controller
	Store      *store.SQLiteStore
	Host       *host.FileKeyHost
	Logger     *zap.Logger
}

type runtimeOptions struct {
	// console mirrors logs to stderr; never set for the TUI.
	console bool
	service model.RAGService
}

func openRuntime(ctx context.Context, cfg config.Config, opts runtimeOptions) (*Runtime, error) {
	dataDir, err := config.ResolveDataDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	stateDir, err := config.StateDir()
	if err != nil {
		return nil, fmt.Errorf("resolve state dir: %w", err)
	}

	logger, err := logging.New(logging.Options{
		FilePath: filepath.Join(dataDir, logging.FileName),
		Verbose:  cfg.Verbose,
		Console:  opts.console,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	db := store.NewSQLiteStore(filepath.Join(dataDir, dbFileName))
	if err := db.Init(ctx); err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open store: %w", err)
	}

	service := opts.service
	if service == nil {
		service = gemini.NewClient()
	}
	keyHost := host.NewFileKeyHost(stateDir, "")

	ctrl := session.New(session.Deps{
		Service:         service,
		Host:            keyHost,
		Settings:        config.NewRepository(logger.Named("settings")),
		Registry:        db,
		History:         db,
		Logger:          logger,
		DefaultSettings: config.Default().Settings(),
		CompletionDelay: completionDelay,
	})
	if err := ctrl.Load(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load session: %w", err)
	}
	logger.Debug("runtime ready", zap.String("data_dir", dataDir), zap.String("session_id", ctrl.ID()))

	return &Runtime{
		Config:     cfg,
		Controller: ctrl,
		Store:      db,
		Host:       keyHost,
		Logger:     logger,
	}, nil
}

func (r *Runtime) Close() error {
	_ = r.Logger.Sync()
	return r.Store.Close()
}
