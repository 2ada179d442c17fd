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

// Package reaper periodically deletes abandoned working directories.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/townsuite/codesigning/pkg/jobstore"
	"github.com/townsuite/codesigning/pkg/observability"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/hashicorp/go-multierror"
	"go.opencensus.io/stats"
)

// Reaper deletes working directories older than a retention window,
// regardless of the state of the jobs inside.
type Reaper struct {
	store    jobstore.Store
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// Config is the reaper configuration.
type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
}

// New creates a reaper.
func New(store jobstore.Store, cfg *Config) (*Reaper, error) {
	if store == nil {
		return nil, fmt.Errorf("missing store")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", cfg.Interval)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive, got %v", cfg.MaxAge)
	}

	return &Reaper{
		store:    store,
		interval: cfg.Interval,
		maxAge:   cfg.MaxAge,
		now:      time.Now,
	}, nil
}

// Run sweeps once immediately and then every interval until ctx is done. Sweep
// failures are logged and retried on the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("reaper.Run")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Infow("reaper started", "interval", r.interval, "max_age", r.maxAge)
	for {
		count, err := r.Sweep(ctx)
		if err != nil {
			logger.Errorw("sweep failed", "removed", count, "error", err)
		} else if count > 0 {
			logger.Infow("swept working directories", "removed", count)
		}

		select {
		case <-ctx.Done():
			logger.Debugw("reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep deletes every working directory older than the retention window and
// returns how many were removed. It keeps going past individual failures and
// returns them together.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	logger := logging.FromContext(ctx).Named("reaper.Sweep")

	result := observability.ResultOK()
	defer observability.RecordLatency(ctx, time.Now(), mSweepLatencyMs, &result)

	entries, err := r.store.List(ctx)
	if err != nil {
		result = observability.ResultError("LIST_FAILED")
		return 0, fmt.Errorf("failed to list working directories: %w", err)
	}

	cutoff := r.now().Add(-r.maxAge)

	var merr *multierror.Error
	var count int
	for _, e := range entries {
		if !e.CreatedAt.Before(cutoff) {
			continue
		}

		if err := r.store.Remove(ctx, e.Key); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed to remove %s: %w", e.Key, err))
			continue
		}
		logger.Debugw("removed working directory", "key", e.Key, "created_at", e.CreatedAt)
		count++
	}

	stats.Record(ctx, mRemoved.M(int64(count)))

	if err := merr.ErrorOrNil(); err != nil {
		result = observability.ResultError("REMOVE_FAILED")
		return count, err
	}
	return count, nil
}
