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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voidKandy/espx-ls-sub001/pkg/logging"
	"github.com/voidKandy/espx-ls-sub001/services/espx/config"
	"github.com/voidKandy/espx-ls-sub001/services/espx/control"
	"github.com/voidKandy/espx-ls-sub001/services/espx/database"
	"github.com/voidKandy/espx-ls-sub001/services/espx/handle"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
	"github.com/voidKandy/espx-ls-sub001/services/espx/state"
	"github.com/voidKandy/espx-ls-sub001/services/espx/telemetry"
)

const shutdownTimeout = 5 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exporter := lsp.NewLogExporter(logging.LevelWarn)
	logger := logging.New(newLoggingConfig(cfg, exporter))
	defer logger.Close()
	slogger := logger.Slog()
	slog.SetDefault(slogger)

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slogger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()
	if cfg.Telemetry.MetricsAddr != "" {
		go func() {
			if err := telemetry.ServeMetrics(ctx, cfg.Telemetry.MetricsAddr, slogger); err != nil {
				slogger.Warn("metrics endpoint stopped", slog.String("error", err.Error()))
			}
		}()
	}

	store, err := openStore(cfg.Database, slogger)
	if err != nil {
		return err
	}

	st := state.New(state.DefaultConfig(), state.Deps{Store: store, Logger: slogger})
	conn := lsp.NewConn(os.Stdin, os.Stdout, slogger)
	exporter.Attach(conn)

	rl := &reloader{cfg: cfg, logger: slogger, ctx: ctx}
	h := handle.New(st, conn, handle.Options{
		Settings:     handle.SettingsFrom(cfg),
		Name:         "espx-ls",
		Version:      version,
		OnInitialize: rl.onInitialize,
		Logger:       slogger,
	})
	rl.h = h
	if err := h.ApplyConfig(cfg); err != nil {
		// A missing API key should not keep the server from starting.
		slogger.Warn("config not fully applied", slog.String("error", err.Error()))
	}
	if cfg.Source != "" {
		rl.watch(cfg.Source)
	}

	if cfg.Control.Enabled {
		srv := control.NewServer(control.Config{
			SocketPath: cfg.Control.SocketPath,
			Rate:       cfg.Control.Rate,
			Burst:      cfg.Control.Burst,
		}, h, slogger)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				slogger.Warn("control socket stopped", slog.String("error", err.Error()))
			}
		}()
		defer srv.Close()
	}

	slogger.Info("espx-ls starting", slog.String("version", version), slog.String("config", cfg.Source))
	serveErr := conn.Serve(ctx, h)
	if errors.Is(serveErr, lsp.ErrClientGone) || errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	rl.close()
	if err := h.Close(sctx); err != nil {
		slogger.Warn("background tasks did not drain", slog.String("error", err.Error()))
	}
	if err := st.Shutdown(sctx); err != nil {
		slogger.Warn("state shutdown failed", slog.String("error", err.Error()))
	}
	conn.Close()
	slogger.Info("espx-ls stopped")
	return serveErr
}

func newLoggingConfig(cfg config.Config, exporter logging.LogExporter) logging.Config {
	format := logging.FormatAuto
	switch cfg.Log.Format {
	case "text":
		format = logging.FormatText
	case "json":
		format = logging.FormatJSON
	}
	return logging.Config{
		Level:    logging.ParseLevel(cfg.Log.Level),
		LogDir:   cfg.Log.Dir,
		Service:  "espx-ls",
		Format:   format,
		Exporter: exporter,
	}
}

func openStore(cfg config.DatabaseConfig, logger *slog.Logger) (*database.Store, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	dbCfg := database.DefaultConfig()
	if cfg.InMemory {
		dbCfg = database.InMemoryConfig()
	}
	dbCfg.Path = cfg.Path
	dbCfg.Logger = logger
	if d := cfg.GCInterval.Std(); d > 0 {
		dbCfg.GCInterval = d
	}
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	return database.NewStore(db), nil
}

// reloader owns config hot reload. The config file may only be known once
// initialize reports the workspace root.
type reloader struct {
	ctx    context.Context
	h      *handle.Handler
	logger *slog.Logger

	mu      sync.Mutex
	cfg     config.Config
	watcher *config.Watcher
}

// onInitialize loads a config file from the workspace root when none was
// found at startup.
func (r *reloader) onInitialize(root string) {
	r.mu.Lock()
	explicit := r.cfg.Source != ""
	r.mu.Unlock()
	if explicit || root == "" {
		return
	}

	path, err := config.Find([]string{root})
	if errors.Is(err, config.ErrNotFound) {
		return
	}
	if err != nil {
		r.logger.Warn("config search failed", slog.String("root", root), slog.String("error", err.Error()))
		return
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		r.logger.Warn("workspace config rejected", slog.String("error", err.Error()))
		return
	}
	r.apply(cfg)
	r.watch(path)
}

func (r *reloader) apply(cfg config.Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	if err := r.h.ApplyConfig(cfg); err != nil {
		r.logger.Warn("config not fully applied", slog.String("error", err.Error()))
		return
	}
	r.logger.Info("config applied", slog.String("source", cfg.Source))
}

func (r *reloader) watch(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		return
	}
	w, err := config.NewWatcher(path, r.cfg, config.DefaultDebounce, r.apply, r.logger)
	if err != nil {
		r.logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		return
	}
	r.watcher = w
	go func() {
		if err := w.Start(r.ctx); err != nil {
			r.logger.Warn("config watcher stopped", slog.String("error", err.Error()))
		}
	}()
}

func (r *reloader) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		r.watcher.Close()
	}
}
