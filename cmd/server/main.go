package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/bluesky-marketplace/internal/bluesky"
	"github.com/blackmichael/bluesky-marketplace/internal/config"
	"github.com/blackmichael/bluesky-marketplace/internal/domain"
	"github.com/blackmichael/bluesky-marketplace/internal/firehose"
	"github.com/blackmichael/bluesky-marketplace/internal/httpserver"
	"github.com/blackmichael/bluesky-marketplace/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// The repository implements the listing, index and cursor stores.
	repo, err := sqlite.NewRepository(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("opened database", "path", cfg.DatabasePath)

	indexer := domain.NewIndexer(repo, repo, cfg.StoreTimeout, logger)
	engine := domain.NewQueryEngine(repo, repo, domain.QueryOptions{
		Timeout:    cfg.StoreTimeout,
		UseIndexes: cfg.UseIndexes,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.FirehoseEnabled {
		profiles := bluesky.NewClient(cfg.BlueskyPDS, logger)
		subscriber := firehose.NewSubscriber(cfg.FirehoseURL, indexer, repo, profiles, logger)
		go func() {
			if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("firehose subscriber exited with error", "error", err)
			}
		}()
	}

	server := httpserver.NewServer(cfg, indexer, engine, repo, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started",
		"port", cfg.Port,
		"hostname", cfg.Hostname,
		"firehose", cfg.FirehoseEnabled,
		"use_indexes", cfg.UseIndexes,
	)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
