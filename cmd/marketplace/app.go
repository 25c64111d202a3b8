package main

import (
	"context"
	"fmt"

	"github.com/blackmichael/bluesky-marketplace/internal/appview"
	"github.com/blackmichael/bluesky-marketplace/internal/bluesky"
	"github.com/blackmichael/bluesky-marketplace/internal/fallback"
	"github.com/blackmichael/bluesky-marketplace/internal/marketplace"
)

// app holds the clients built from cliConfig for a single command run.
type app struct {
	pds     *bluesky.Client
	appView *appview.Client
	known   *fallback.KnownUsers
	client  *marketplace.Client
	selfDID string
}

// newApp wires the clients. When a handle and password are configured it
// logs in to learn the caller's DID; otherwise the configured DID is used.
func newApp(ctx context.Context, cfg *cliConfig) (*app, error) {
	a := &app{
		pds:     bluesky.NewClient(cfg.PDS, logger),
		known:   fallback.LoadKnownUsers(cfg.KnownUsersPath, logger),
		selfDID: cfg.DID,
	}

	if cfg.Handle != "" && cfg.Password != "" {
		if err := a.pds.Login(ctx, cfg.Handle, cfg.Password); err != nil {
			return nil, fmt.Errorf("login as %s: %w", cfg.Handle, err)
		}
		a.selfDID = a.pds.DID()
		logger.Debug("logged in", "handle", cfg.Handle, "did", a.selfDID)
	}

	agg := fallback.NewAggregator(a.pds, a.known, fallback.Options{
		SelfDID:            a.selfDID,
		PerIdentityTimeout: cfg.Timeout,
		Concurrency:        cfg.Concurrency,
		RequestsPerSecond:  cfg.RequestsPerSecond,
	}, logger)

	var av marketplace.AppView
	if cfg.AppView != "" {
		a.appView = appview.NewClient(cfg.AppView)
		av = a.appView
	}
	a.client = marketplace.NewClient(av, agg, a.known, logger)
	return a, nil
}
