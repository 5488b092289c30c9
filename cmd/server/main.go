// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Mail-merge service.
//
// Entry point for the mail-merge API. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL (templates) and Redis (run retention, guard)
//  3. Builds the Graph device-code authenticator and sendMail client
//  4. Starts the attachment temp-area janitor
//  5. Serves the JSON API (runs, reports, templates, sign-in, health)
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailmerge/internal/attachpool"
	"github.com/bcem/mailmerge/internal/config"
	"github.com/bcem/mailmerge/internal/graph"
	"github.com/bcem/mailmerge/internal/pipeline"
	"github.com/bcem/mailmerge/internal/runs"
	"github.com/bcem/mailmerge/internal/template"
	"github.com/bcem/mailmerge/internal/web"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mail-merge service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"max_attachment_mb", cfg.MaxAttachmentMB,
		"send_timeout", cfg.SendTimeout,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	runStore := runs.NewStore(rdb, cfg.RunRetention)
	if err := runStore.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Template Store (Postgres) ---
	templates, err := template.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise template store", "error", err)
		os.Exit(1)
	}

	// --- Graph authenticator + sender ---
	auth := graph.NewAuthenticator(
		cfg.Graph.TenantID,
		cfg.Graph.ClientID,
		cfg.Graph.Scopes,
		cfg.Graph.TokenCacheFile,
	)
	sender := graph.NewSender(auth, graph.DefaultBaseURL, cfg.SendTimeout)

	// --- Pipeline with duplicate-submission guard ---
	pipe := pipeline.New(sender, pipeline.NewGuard(rdb))

	// --- Attachment pool builder + temp-area janitor ---
	builder := attachpool.NewBuilder(cfg.TempDir)
	builder.RegisterExtractor(".rar", attachpool.RarExtractor{})
	janitor := attachpool.NewJanitor(cfg.TempDir, cfg.JanitorMaxAge, cfg.JanitorInterval)
	janitor.Start(ctx)

	// --- API server ---
	handler := web.NewHandler(web.HandlerConfig{
		Pipeline:        pipe,
		Templates:       templates,
		Runs:            runStore,
		Auth:            auth,
		PoolBuilder:     builder,
		MaxAttachmentMB: cfg.MaxAttachmentMB,
		DB:              pgPool,
		Redis:           runStore,
	})

	ready, err := web.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start API server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("mail-merge service ready", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel() // Stops the API server and background goroutines

	janitor.Stop()
	rdb.Close()
	pgPool.Close()

	slog.Info("mail-merge service stopped")
}
