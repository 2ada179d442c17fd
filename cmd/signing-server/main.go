// Copyright 2026 the Code Signing Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This server accepts payloads over HTTP, signs them in the background and
// serves the results to polling clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/townsuite/codesigning/internal/buildinfo"
	"github.com/townsuite/codesigning/internal/routes"
	"github.com/townsuite/codesigning/pkg/admission"
	"github.com/townsuite/codesigning/pkg/batch"
	"github.com/townsuite/codesigning/pkg/config"
	"github.com/townsuite/codesigning/pkg/executor"
	"github.com/townsuite/codesigning/pkg/jobstore"
	"github.com/townsuite/codesigning/pkg/observability"
	"github.com/townsuite/codesigning/pkg/ratelimit"
	"github.com/townsuite/codesigning/pkg/reaper"
	"github.com/townsuite/codesigning/pkg/signer"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/google/exposure-notifications-server/pkg/server"

	"github.com/gorilla/handlers"
)

func main() {
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	logger := logging.NewLoggerFromEnv().
		With("build_id", buildinfo.BuildID).
		With("build_tag", buildinfo.BuildTag)
	ctx = logging.WithLogger(ctx, logger)

	defer func() {
		done()
		if r := recover(); r != nil {
			logger.Fatalw("application panic", "panic", r)
		}
	}()

	err := realMain(ctx)
	done()

	if err != nil {
		logger.Fatal(err)
	}
	logger.Info("successful shutdown")
}

func realMain(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	cfg, err := config.NewServerConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to process config: %w", err)
	}

	if err := observability.RegisterViews(); err != nil {
		return fmt.Errorf("failed to register views: %w", err)
	}

	// Setup the working store
	store, err := jobstore.NewFilesystem(cfg.WorkingDir)
	if err != nil {
		return fmt.Errorf("failed to create working store: %w", err)
	}
	if cfg.ResetWorkingDirOnStart {
		if err := store.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset working store: %w", err)
		}
		logger.Infow("reset working store", "root", store.Root())
	}

	// Admission gate around the signing tool
	gate, err := admission.New(admission.Capacity(cfg.ProcessPerCPULimit))
	if err != nil {
		return fmt.Errorf("failed to create admission gate: %w", err)
	}
	logger.Infow("admission gate", "capacity", gate.Capacity())

	exec, err := executor.New(ctx, store, gate, &executor.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}
	defer exec.Close()

	// Signers
	embeddedSigner, err := signer.SignerFor(ctx, &cfg.Signer)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	detachedSigner, err := signer.SignerFor(ctx, &cfg.DetachedSigner)
	if err != nil {
		return fmt.Errorf("failed to create detached signer: %w", err)
	}
	logger.Infow("signers configured",
		"signer", cfg.Signer.Type,
		"detached_signer", cfg.DetachedSigner.Type)

	embedded := batch.New(store, exec, embeddedSigner, batch.ModeEmbedded)
	detached := batch.New(store, exec, detachedSigner, batch.ModeDetached)

	// Reaper
	rpr, err := reaper.New(store, &reaper.Config{
		Interval: cfg.ReaperInterval,
		MaxAge:   cfg.ReaperMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to create reaper: %w", err)
	}
	go func() {
		if err := rpr.Run(ctx); err != nil {
			logger.Errorw("reaper stopped", "error", err)
		}
	}()

	// Setup rate limiting
	limiterStore, err := ratelimit.RateLimiterFor(ctx, &cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to create limiter: %w", err)
	}
	defer limiterStore.Close(ctx)

	mux, err := routes.SigningServer(ctx, cfg, embedded, detached, rpr, limiterStore)
	if err != nil {
		return fmt.Errorf("failed to setup routes: %w", err)
	}

	srv, err := server.New(cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	logger.Infow("server listening", "port", cfg.Port)
	return srv.ServeHTTPHandler(ctx, handlers.CombinedLoggingHandler(os.Stdout, mux))
}
