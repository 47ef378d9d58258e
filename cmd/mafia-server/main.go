// Package main is the entry point for the mafia game server.
// It only handles dependency injection and server initialization.
// NO business logic belongs here.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/agent"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/infra/cache"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/infra/storage"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/network"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/config"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/logger"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/metrics"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/optimization"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/otel"
)

const tuneEvery = 5 * time.Minute

func main() {
	appLogger := logger.NewLogger()

	var cfg config.Server
	var budgetCfg budget.Config
	if err := config.Load(&cfg); err != nil {
		config.Exitf("config: %v", err)
	}
	if err := config.ParseEnv(&budgetCfg); err != nil {
		config.Exitf("budget config: %v", err)
	}
	if err := budgetCfg.Validate(); err != nil {
		config.Exitf("%v", err)
	}
	prices, err := loadPrices(cfg.PriceTable)
	if err != nil {
		config.Exitf("price table: %v", err)
	}
	tuning := profile(cfg.Profile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := otel.Setup(ctx, "mafia-server")
	if err != nil {
		appLogger.Warnf("tracing disabled: %v", err)
	}
	defer shutdownTracing(context.Background())

	appLogger.Infof("Initializing SQLite database %q...", cfg.DBPath)
	db, err := storage.InitSQLite(cfg.DBPath)
	if err != nil {
		config.Exitf("failed to initialize SQLite: %v", err)
	}
	defer db.Close()
	storage.TunePool(db, cfg.DBPath, tuning.DBMaxOpenConns, tuning.DBMaxIdleConns)
	eventRepo := storage.NewSQLiteEventRepository(db)
	snapRepo := storage.NewSQLiteSnapshotRepository(db).Retain(tuning.SnapshotsKept)

	factory, err := agent.NewFactory(cfg, appLogger.With("agents"))
	if err != nil {
		config.Exitf("agents: %v", err)
	}
	appLogger.Infof("Agents: %s", factory.Model())

	registry := engine.NewRegistry(
		engine.WithPersister(eventRepo),
		engine.WithSnapshots(snapRepo, tuning.SnapshotEvery),
		engine.WithBudget(budgetCfg, prices),
		engine.WithConcurrency(tuning.AgentConcurrency),
		engine.WithLogger(appLogger.With("engine")),
		engine.WithMetrics(metrics.Get()),
	)

	appLogger.Info("Bootstrapping WebSocket Hub...")
	hub := network.NewHub(tuning, appLogger)
	go hub.Run(ctx)

	views, err := cache.NewViewCache(tuning.ViewCacheSize)
	if err != nil {
		config.Exitf("%v", err)
	}
	api := network.NewAPI(ctx, registry, hub, views, factory, appLogger)

	appLogger.Info("Reconstructing games from SQLite...")
	reconstructor := storage.NewReconstructor(eventRepo, snapRepo)
	unfinished, err := reconstructor.RestoreAll(ctx, registry)
	if err != nil {
		config.Exitf("restore games: %v", err)
	}
	for _, id := range unfinished {
		g, err := registry.Get(id)
		if err != nil {
			continue
		}
		state := g.State()
		ids := make([]string, len(state.Players))
		for i, p := range state.Players {
			ids[i] = p.ID
		}
		g.SeatAgents(factory.Seat(state.Seed, ids))
		appLogger.Infof("Resuming game %s at seq %d", id, g.LastSequence())
		api.Start(g)
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go tune(ctx, tuning, appLogger)
	go func() {
		appLogger.Infof("HTTP API & WS Server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Errorf("server failed: %v", err)
			cancel()
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	appLogger.Info("Shutting down...")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
	registry.StopAll(shutdownCtx, "server shutdown")
	cancel()
}

func profile(name string) *optimization.Config {
	switch strings.ToLower(name) {
	case "stress":
		return optimization.StressTestConfig()
	case "low", "low-resource":
		return optimization.LowResourceConfig()
	default:
		return optimization.DefaultConfig()
	}
}

func loadPrices(path string) (*budget.PriceTable, error) {
	if path == "" {
		return budget.DefaultPriceTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return budget.LoadPriceTable(f, budget.Price{InputPerMillion: 3.00, OutputPerMillion: 15.00})
}

// tune logs what the metrics suggest about the running profile.
func tune(ctx context.Context, cfg *optimization.Config, log *logger.Logger) {
	ticker := time.NewTicker(tuneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec := optimization.Analyze(metrics.Get().Snapshot())
			for _, note := range rec.Notes {
				log.Warnf("tuning: %s (agent concurrency %d)", note, cfg.AgentConcurrency)
			}
		}
	}
}
