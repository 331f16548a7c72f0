// Package server wires the vault, the session store and the query
// dispatcher into a running application with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/apetrenko/keyfort/internal/logging"
	"github.com/apetrenko/keyfort/internal/server/config"
	"github.com/apetrenko/keyfort/internal/server/handler"
	"github.com/apetrenko/keyfort/internal/session"
	"github.com/apetrenko/keyfort/internal/storage"
	"github.com/apetrenko/keyfort/internal/vault"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	vault      *vault.Vault
	dispatcher *handler.Dispatcher

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLogger builds the slog-backed logger described by the config.
func NewLogger(cfg *config.Config) logging.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if cfg.LogPII {
		level = logging.LevelPII
	}

	l := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if cfg.LogPII {
		return logging.NewSlogLoggerWithPII(l)
	}
	return logging.NewSlogLogger(l)
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := NewLogger(cfg)

	store, err := storage.New(cfg.Driver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{
		config: cfg,
		logger: logger,
		vault:  vault.New(logger.With("module", "vault"), store),
		stop:   make(chan struct{}),
	}

	// The vault belongs to the dispatcher worker once it starts; the
	// threshold write must happen before that.
	if err := app.vault.SetStretchThreshold(context.Background(), cfg.StretchThreshold); err != nil {
		return nil, err
	}

	sessions := session.NewStore(logger.With("module", "session"), session.Options{
		SessionIDLength: cfg.SessionIDLength,
		TokenLength:     cfg.TokenLength,
		TokenRetention:  cfg.TokenRetention,
	})
	h := handler.New(logger.With("module", "handler"), app.vault, sessions, handler.Options{
		OnStop: app.Stop,
	})
	app.dispatcher = handler.NewDispatcher(logger.With("module", "dispatcher"), h)

	return app, nil
}

// Dispatcher exposes the query entry point for whatever front end carries
// the messages.
func (app *App) Dispatcher() *handler.Dispatcher {
	return app.dispatcher
}

// Stop requests shutdown. Safe to call from any goroutine, including the
// dispatcher worker handling an admin Stop query.
func (app *App) Stop() {
	app.stopOnce.Do(func() { close(app.stop) })
}

func (app *App) initSignalHandler() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		app.Stop()
	}()
}

// Run blocks until the context is canceled, a signal arrives or an admin
// issues a Stop query, then shuts the dispatcher and the vault down.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "starting keyfort server",
		"driver", app.config.Driver, "dsn", app.config.DatabaseDSN)

	app.initSignalHandler()

	select {
	case <-ctx.Done():
	case <-app.stop:
	}

	app.logger.Info(ctx, "shutting down")
	app.dispatcher.Shutdown()
	return app.vault.Close()
}
