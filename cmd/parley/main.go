// parley - a streaming chat server for local LLM backends.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/logging"
	"github.com/jeranaias/parley/internal/ollama"
	"github.com/jeranaias/parley/internal/server"
	"github.com/jeranaias/parley/internal/state"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "parley.toml", "path to the TOML config file")
		port       = flag.Int("port", 0, "listen port (overrides config)")
		webDir     = flag.String("web", "", "static asset directory (overrides config)")
	)
	flag.Parse()

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *webDir != "" {
		cfg.Server.WebDir = *webDir
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format)

	store := state.NewStore(cfg.Storage.SnapshotPath)
	snap, err := store.Load()
	if err != nil {
		logging.WithError(err).Warn("snapshot unreadable, starting with empty state")
		snap = state.NewSnapshot()
	}

	upstreamURL := cfg.Upstream.URL
	if snap.ServerURL != "" {
		upstreamURL = snap.ServerURL
	}
	client := ollama.NewClient(&ollama.ClientConfig{
		BaseURL:      upstreamURL,
		Timeout:      time.Duration(cfg.Upstream.TimeoutSecs) * time.Second,
		DefaultModel: cfg.Defaults.Model,
	})

	srv := server.NewServer(cfg, client, store, snap)

	// Hot reload: a config edit repoints the upstream client without a
	// restart. Other settings still need one.
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		client.SetBaseURL(next.Upstream.URL)
	})
	if err != nil {
		logging.WithError(err).Warn("config watching unavailable")
	} else if err := watcher.Watch(); err != nil {
		logging.WithError(err).Warn("config watching unavailable")
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	logging.Info("shutdown complete")
	return nil
}
