package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Simplici0/engineroom/internal/config"
	"github.com/Simplici0/engineroom/internal/db"
	"github.com/Simplici0/engineroom/internal/logger"
	"github.com/Simplici0/engineroom/internal/migrations"
	"github.com/Simplici0/engineroom/internal/seed"
	"github.com/Simplici0/engineroom/internal/service"
	"github.com/Simplici0/engineroom/internal/store"
)

func main() {
	cfg := config.Load()

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, w := range cfg.Warnings {
		logg.Warnf(ctx, "config: %s", w)
	}

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if cfg.IsDev() {
		if err := migrations.Up(ctx, database); err != nil {
			log.Fatalf("failed to run database migrations: %v", err)
		}
		stats, err := seed.Run(ctx, database, seed.Config{RulesFile: cfg.RulesFile})
		if err != nil {
			log.Fatalf("failed to seed database: %v", err)
		}
		logg.Infof(ctx, "seed complete: %d inserts", stats.Inserts)
	}

	st := store.New(database)
	sim := service.New(st, logg, service.Options{
		Workers:   cfg.SimWorkers,
		ChunkSize: cfg.SimChunkSize,
		CacheTTL:  cfg.SimCacheTTL,
	})
	srv := newServer(st, sim, logg)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logg.Errorf(shutdownCtx, "shutdown: %v", err)
		}
	}()

	logg.Infof(ctx, "listening on %s (env=%s)", httpServer.Addr, cfg.Env)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server stopped: %v", err)
	}
}
