package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/circuit"
	"github.com/sovereign-gateway/scri/config"
	"github.com/sovereign-gateway/scri/heal"
	"github.com/sovereign-gateway/scri/health"
	"github.com/sovereign-gateway/scri/httpapi"
	"github.com/sovereign-gateway/scri/internal/server"
	"github.com/sovereign-gateway/scri/metrics"
	"github.com/sovereign-gateway/scri/provider"
	"github.com/sovereign-gateway/scri/provider/factory"
	"github.com/sovereign-gateway/scri/reload"
	"github.com/sovereign-gateway/scri/router"
)

// metricsOnlyMux serves the bare Prometheus /metrics endpoint on the
// separate metrics listener — the /api/v1/metrics JSON snapshot lives on
// the main API mux instead, since it dispatches onto metrics.Sink
// directly.
func metricsOnlyMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Gateway assembles every component of the resilience core behind the
// httpapi.NewMux route table. There is no database, only the file-backed
// reload.Store, so construction is a straight-line sequence:
// breakers -> registry -> health -> reload -> heal -> router -> mux.
type Gateway struct {
	cfg    *config.Config
	logger *zap.Logger

	httpSrv    *server.Manager
	metricsSrv *server.Manager
}

// NewGateway builds every provider adapter named in cfg.Providers and
// wires the core components around them. It does not bind any socket;
// call Start for that.
func NewGateway(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	sink := metrics.New("scri_gateway", logger)

	breakers := circuit.NewRegistry(circuit.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		SuccessThreshold: cfg.Circuit.SuccessThreshold,
		RecoveryTimeout:  cfg.Circuit.RecoveryTimeout,
		OnStateChange: func(name string, from, to circuit.State) {
			if from == circuit.Closed && to == circuit.Open {
				sink.RecordCircuitOpen(name)
			}
		},
	}, logger)

	registry := provider.NewRegistry()

	var healWorker *heal.Worker
	monitor := health.NewMonitor(health.Config{
		ErrorThreshold:  cfg.Healing.ErrorThreshold,
		CooldownSeconds: time.Duration(cfg.Healing.CooldownSeconds) * time.Second,
		HealingEnabled:  cfg.Healing.Enabled,
	}, func(req health.HealRequest) {
		if healWorker != nil {
			healWorker.Submit(req)
		}
	}, logger)

	store := reload.NewStore(cfg.Reload.DataDir)
	reloadMgr := reload.New(reload.Config{
		MaxHistory:         cfg.Reload.MaxHistory,
		VerifyTimeout:      cfg.Reload.VerifyTimeout,
		PendingExpiry:      cfg.Reload.PendingExpiry,
		AutoApply:          cfg.Healing.AutoApply,
		AutoApplyThreshold: cfg.Healing.AutoApplyThreshold,
	}, registry, monitor, sink, store, secretFromEnv, logger)

	healWorker = heal.New(heal.Config{
		HealModel:          cfg.Healing.HealModel,
		ResearchPreference: cfg.Healing.ResearchPreferenceOrder,
	}, registry, reloadMgr, monitor, sink, logger)

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		src := reload.SourceConfig{BaseURL: pc.BaseURL, Model: pc.Model, Timeout: pc.Timeout, Extra: pc.Extra}
		adapter, err := factory.New(name, factory.Config{
			APIKey:  secretFromEnv(pc.APIKeyEnv),
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
			Extra:   pc.Extra,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("gateway: build adapter %q: %w", name, err)
		}
		registry.Register(name, adapter)
		reloadMgr.Seed(name, src)
		logger.Info("provider registered", zap.String("provider", name), zap.String("model", pc.Model))
	}

	if cfg.Behaviour.DefaultProvider != "" {
		if err := registry.SetDefault(cfg.Behaviour.DefaultProvider); err != nil {
			logger.Warn("default provider not registered", zap.Error(err))
		}
	}

	priorities := make(map[string]int, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if pc.Enabled {
			priorities[name] = pc.Priority
		}
	}

	rtr := router.New(router.Config{
		Aliases:         cfg.Aliases,
		Fallbacks:       cfg.Fallbacks,
		DefaultProvider: cfg.Behaviour.DefaultProvider,
		Priorities:      priorities,
	}, registry, breakers, monitor, logger)

	deps := httpapi.Deps{
		Config:   cfg,
		Registry: registry,
		Router:   rtr,
		Breakers: breakers,
		Health:   monitor,
		Reload:   reloadMgr,
		Heal:     healWorker,
		Metrics:  sink,
		Logger:   logger,
	}

	mux := httpapi.NewMux(deps)

	httpSrv := server.NewManager(mux, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	var metricsSrv *server.Manager
	if cfg.Server.MetricsAddr != "" && cfg.Server.MetricsAddr != cfg.Server.Addr {
		metricsMux := metricsOnlyMux()
		metricsSrv = server.NewManager(metricsMux, server.Config{
			Addr:            cfg.Server.MetricsAddr,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, logger)
	}

	return &Gateway{cfg: cfg, logger: logger, httpSrv: httpSrv, metricsSrv: metricsSrv}, nil
}

// Start binds and begins serving, non-blocking.
func (g *Gateway) Start() error {
	if err := g.httpSrv.Start(); err != nil {
		return err
	}
	g.logger.Info("HTTP server started", zap.String("addr", g.cfg.Server.Addr))
	if g.metricsSrv != nil {
		if err := g.metricsSrv.Start(); err != nil {
			return err
		}
		g.logger.Info("metrics server started", zap.String("addr", g.cfg.Server.MetricsAddr))
	}
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then drains both servers.
func (g *Gateway) WaitForShutdown() {
	g.httpSrv.WaitForShutdown()
	if g.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := g.metricsSrv.Shutdown(ctx); err != nil {
			g.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
}

// secretFromEnv resolves a provider's API key from the named environment
// variable, never from the TOML file: key material is read only from
// environment, never logged, never persisted.
func secretFromEnv(envVar string) string {
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}
