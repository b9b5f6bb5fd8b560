// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/intake/pkg/logging"
	"github.com/AleutianAI/intake/services/intake/collector"
	"github.com/AleutianAI/intake/services/intake/handlers"
	"github.com/AleutianAI/intake/services/intake/routes"
	badgerstore "github.com/AleutianAI/intake/services/intake/storage/badger"
	"github.com/AleutianAI/intake/services/intake/telemetry"
)

func newLogger() *logging.Logger {
	level := logging.LevelInfo
	switch config.Logging.Level {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  config.Logging.Dir,
		Service: "intake",
		JSON:    config.Logging.JSON,
		Quiet:   config.Logging.Quiet,
	})
}

func openStore(log *logging.Logger) (*badgerstore.Store, error) {
	if config.Storage.InMemory {
		return badgerstore.OpenInMemory()
	}
	cfg := badgerstore.DefaultConfig()
	cfg.Path = config.Storage.Path
	cfg.SyncWrites = config.Storage.SyncWrites
	cfg.Logger = log.Slog()
	if config.Storage.GCInterval > 0 {
		cfg.GCInterval = time.Duration(config.Storage.GCInterval)
	}
	return badgerstore.Open(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Close()

	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer store.Close()

	// Collectors are registered explicitly at startup; nothing
	// registers as an import side effect.
	collector.Register(collector.QualifiedName, collector.New)

	metrics, err := telemetry.New(nil)
	if err != nil {
		return err
	}

	api := handlers.NewAPI(store, metrics, log.Slog())

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.Setup(router, routes.Config{
		API:               api,
		Metrics:           metrics,
		RequestsPerSecond: config.Server.RateLimitRPS,
		Burst:             config.Server.Burst,
	})

	server := &http.Server{
		Addr:              config.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", config.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	timeout := time.Duration(config.Server.ShutdownTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
