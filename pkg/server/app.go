package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"RegimeSim/internal/usecase"
	"RegimeSim/pkg/cache"
	pkgch "RegimeSim/pkg/clickhouse"
	"RegimeSim/pkg/config"
	xhttp "RegimeSim/pkg/http"
	applogger "RegimeSim/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	engine     *usecase.ScenarioEngine
	httpServer *xhttp.Server
	chClient   *pkgch.Client
	cache      cache.Service
}

// New creates a new App instance with all dependencies. chClient and c may
// be nil when the backends are disabled.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.ScenarioEngine,
	httpServer *xhttp.Server,
	chClient *pkgch.Client,
	c cache.Service,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		engine:     engine,
		httpServer: httpServer,
		chClient:   chClient,
		cache:      c,
	}
}

// Engine returns the scenario engine, for one-shot commands.
func (a *App) Engine() *usecase.ScenarioEngine { return a.engine }

// Prepare restores persisted state and fits when no model set is held.
func (a *App) Prepare(ctx context.Context) error {
	if err := a.engine.Restore(ctx); err != nil {
		a.log.Warn("restore failed", applogger.Error(err))
	}
	if a.engine.Models() != nil {
		return nil
	}
	_, err := a.engine.Fit(ctx, "")
	return err
}

// Run starts the HTTP server and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Prepare(ctx); err != nil {
		// the API can still assemble and fit on request
		a.log.Warn("initial fit failed", applogger.Error(err))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.Shutdown(ctx)
}

// Shutdown stops the HTTP server and closes infrastructure clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	// publisher and sink
	a.engine.Close()

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
