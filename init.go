package main

import (
	"context"
	"fmt"

	"github.com/tournevent/shiprate/internal/catalog"
	"github.com/tournevent/shiprate/internal/config"
	"github.com/tournevent/shiprate/internal/session"
	"github.com/tournevent/shiprate/internal/telemetry"
	"github.com/tournevent/shiprate/pkg/shipping"
	"github.com/tournevent/shiprate/pkg/shipping/cache"
	"github.com/tournevent/shiprate/pkg/shipping/provider/flatrate"
	"github.com/tournevent/shiprate/pkg/shipping/provider/mock"
	"github.com/tournevent/shiprate/pkg/shipping/provider/remote"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(cfg *config.Config) (*otelzap.Logger, error) {
	return telemetry.NewLogger(cfg.LogLevel,
		zap.String("service", cfg.ServiceName),
		zap.String("version", cfg.Version),
	)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return otel.Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.Attributes()...)
}

func initRegistry(logger *otelzap.Logger) *shipping.Registry {
	registry := shipping.NewRegistry()
	registry.Register(flatrate.ProviderType, flatrate.Factory)
	registry.Register(remote.ProviderType, remote.Factory(logger))
	registry.Register(mock.ProviderType, mock.New().Factory())
	return registry
}

// initSessionStore returns nil when the cross-request tier is disabled.
func initSessionStore(ctx context.Context, cfg *config.Config) (cache.SessionStore, func(), error) {
	noop := func() {}
	if !cfg.CrossRequestCache {
		return nil, noop, nil
	}
	if cfg.SessionDriver != config.SessionPostgres {
		return cache.NewMemoryStore(), noop, nil
	}

	pool, err := session.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, noop, err
	}
	store := session.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, noop, err
	}
	return store, pool.Close, nil
}

type engineDeps struct {
	catalog  *catalog.Catalog
	sessions cache.SessionStore
	observer shipping.Observer
	tracer   trace.Tracer
}

func initEngine(cfg *config.Config, deps engineDeps, logger *otelzap.Logger) (*shipping.Engine, error) {
	cat := deps.catalog
	engine, err := shipping.NewEngine(shipping.Config{
		BaseCurrency:      cfg.BaseCurrency,
		CrossRequestCache: cfg.CrossRequestCache,
	}, shipping.Deps{
		Options:   cat,
		Registry:  initRegistry(logger),
		Carts:     cat.Snapshots(),
		Orders:    cat.Snapshots(),
		Discounts: cat,
		Taxes:     cat,
		ItemCosts: cat,
		Currency:  cat,
		Sessions:  deps.sessions,
		Observer:  deps.observer,
		Tracer:    deps.tracer,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating shipping engine: %w", err)
	}
	return engine, nil
}
