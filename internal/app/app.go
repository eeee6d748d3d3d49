// Package app wires the gateway runtime: catalog config, session pool,
// registry, conversation store, orchestrator, and the HTTP surfaces.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mcpgate/internal/infra/catalog"
	"mcpgate/internal/infra/gateway"
	"mcpgate/internal/infra/orchestrator"
	"mcpgate/internal/infra/pool"
	"mcpgate/internal/infra/registry"
	"mcpgate/internal/infra/store"
	"mcpgate/internal/infra/telemetry"
	"mcpgate/internal/infra/transport"
)

const shutdownGrace = 10 * time.Second

// ServeConfig carries command-line settings into Serve.
type ServeConfig struct {
	ConfigPath string
}

type App struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{logger: logger.Named("app")}
}

// Serve runs the gateway until ctx is cancelled.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loader := catalog.NewLoader(a.logger)
	config, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration loaded",
		zap.String("config", cfg.ConfigPath),
		zap.Int("servers", len(config.Servers)),
	)

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(promRegistry)

	reg := registry.New(registry.Options{
		Logger:        a.logger,
		DefaultServer: config.DefaultServer,
	})
	if err := reg.Replace(config.Servers); err != nil {
		return err
	}

	sessions, err := pool.New(pool.Options{
		Dialer:         transport.NewDefaultDialer(),
		Logger:         a.logger,
		Metrics:        metrics,
		IdleWindow:     config.Pool.IdleWindow,
		SweepInterval:  config.Pool.SweepInterval,
		ConnectTimeout: config.Pool.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	sessions.Start(ctx)

	conversations, err := store.Open(config.StorePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := conversations.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}()

	chatModel, err := orchestrator.InitModel(ctx, config.Model)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Registry:      reg,
		Pool:          sessions,
		Store:         conversations,
		Model:         chatModel,
		Logger:        a.logger,
		Metrics:       metrics,
		MaxRounds:     config.Chat.MaxRounds,
		ModelTimeout:  config.Chat.ModelTimeout,
		InvokeTimeout: config.Chat.InvokeTimeout,
		ModelName:     config.Model.Model,
		SystemPrompt:  config.SystemPrompt,
	})
	if err != nil {
		return err
	}

	httpGateway, err := gateway.New(gateway.Options{
		Addr:     config.ListenAddress,
		Chat:     orch,
		Registry: reg,
		Pool:     sessions,
		Store:    conversations,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	watcher := catalog.NewWatcher(loader, cfg.ConfigPath, a.logger, func(next catalog.Config) {
		a.applyCatalog(reg, sessions, next)
	})
	go watcher.Run(ctx)

	var wg sync.WaitGroup
	errChan := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
			Addr:     config.ObservabilityAddress,
			Registry: promRegistry,
		}, a.logger); err != nil {
			errChan <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := httpGateway.Serve(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case err = <-errChan:
		cancel()
	case <-ctx.Done():
		err = nil
	}
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if shutdownErr := sessions.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Warn("pool shutdown incomplete", zap.Error(shutdownErr))
	}
	return err
}

// applyCatalog swaps the registry to the reloaded server set and evicts live
// sessions for servers that disappeared from the catalog. Runtime tuning
// (timeouts, listen addresses, default server) needs a restart.
func (a *App) applyCatalog(reg *registry.Registry, sessions *pool.Pool, next catalog.Config) {
	nextIDs := make(map[string]struct{}, len(next.Servers))
	for _, desc := range next.Servers {
		nextIDs[desc.ServerID] = struct{}{}
	}

	var removed []string
	for _, desc := range reg.List() {
		if _, ok := nextIDs[desc.ServerID]; !ok {
			removed = append(removed, desc.ServerID)
		}
	}

	if err := reg.Replace(next.Servers); err != nil {
		a.logger.Warn("catalog reload rejected", zap.Error(err))
		return
	}
	for _, serverID := range removed {
		sessions.EvictServer(serverID, "removed from catalog")
	}
}
