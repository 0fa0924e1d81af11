// Package di assembles the application: it wires the store, the core
// services, the event hub, and the HTTP server from a loaded configuration.
package di

import (
	"context"
	"fmt"

	"github.com/nikatrade/referrald/internal/config"
	"github.com/nikatrade/referrald/internal/core/accrual"
	"github.com/nikatrade/referrald/internal/core/referral"
	"github.com/nikatrade/referrald/internal/events"
	"github.com/nikatrade/referrald/internal/server/api/rest"
	"github.com/nikatrade/referrald/internal/storage/relationaldb"
	"github.com/nikatrade/referrald/internal/storage/relationaldb/postgres"
)

// App holds the wired components of one daemon instance.
type App struct {
	Config    *config.Config
	Store     relationaldb.Store
	Referrals *referral.Service
	Engine    *accrual.Engine
	Hub       *events.Hub
	Server    *rest.Server
}

// NewApp wires every component. The store is not yet opened; Start does
// that.
func NewApp(cfg *config.Config) (*App, error) {
	store, err := postgres.NewRepositoryManager(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to build store: %w", err)
	}

	referrals := referral.NewService(store)
	engine := accrual.NewEngine(store)
	hub := events.NewHub()

	handler := rest.NewHandler(referrals, engine, store, hub, hub)
	server := rest.NewServer(rest.Options{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler)

	return &App{
		Config:    cfg,
		Store:     store,
		Referrals: referrals,
		Engine:    engine,
		Hub:       hub,
		Server:    server,
	}, nil
}

// Start opens the store and serves HTTP. It blocks until the listener stops.
func (a *App) Start(ctx context.Context) error {
	if err := a.Store.Open(ctx); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	return a.Server.Start()
}

// Stop shuts the app down in reverse order of Start.
func (a *App) Stop(ctx context.Context) error {
	err := a.Server.Stop(ctx)

	a.Hub.Close()

	if closeErr := a.Store.Close(ctx); err == nil {
		err = closeErr
	}
	return err
}
