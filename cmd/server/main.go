package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookforge/internal/api"
	"bookforge/internal/cache"
	"bookforge/internal/config"
	"bookforge/internal/enrich"
	"bookforge/internal/ledger"
	"bookforge/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable job ledger.
	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		log.Error("open ledger", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	// Artifact cache and enrichment clients.
	artifacts := cache.New(cfg.CacheMaxEntries, cfg.CacheTTL)
	gen := enrich.NewClient(cfg.EnrichBaseURL, cfg.EnrichAPIKey, cfg.EnrichModel)
	pool, err := enrich.NewPool(enrich.PoolConfig{
		Workers:           cfg.EnrichWorkers,
		RequestsPerSecond: cfg.EnrichRequestsPerSecond,
		MaxAttempts:       cfg.EnrichMaxAttempts,
		CallTimeout:       cfg.EnrichCallTimeout,
	})
	if err != nil {
		log.Error("create enrichment pool", "error", err)
		os.Exit(1)
	}

	// Pipeline. Start resumes jobs interrupted by an earlier shutdown.
	orch := pipeline.New(store, artifacts, pool, gen, log, cfg.JobTimeout)
	if err := orch.Start(ctx); err != nil {
		log.Error("start pipeline", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(orch, gen, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		pool.Release()
		gen.Close()
		if err := store.Close(); err != nil {
			log.Error("close ledger", "error", err)
		}
		cancel()
	}()

	log.Info("starting bookforge", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
