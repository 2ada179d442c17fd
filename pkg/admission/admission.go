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

// Package admission implements the admission gate, a counting limiter that
// bounds how many signing invocations run at once no matter how many jobs are
// queued.
package admission

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/townsuite/codesigning/pkg/observability"

	"go.opencensus.io/stats"
	"golang.org/x/sync/semaphore"
)

// Gate is a counting limiter. Waiters are woken in FIFO order.
type Gate struct {
	capacity int64
	sem      *semaphore.Weighted
}

// Capacity returns the gate capacity for the given per-CPU multiplier.
func Capacity(perCPU int) int {
	return runtime.NumCPU() * perCPU
}

// New creates a gate with the given number of slots. Capacity must be greater
// than zero.
func New(capacity int) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("admission capacity must be greater than 0, got %d", capacity)
	}

	return &Gate{
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
	}, nil
}

// Capacity is the number of slots of the gate.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// Acquire blocks until a slot is available or ctx is done. On success the
// caller must call Release exactly once.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	result := observability.ResultOK()
	defer observability.RecordLatency(ctx, start, mWaitLatencyMs, &result)

	if err := g.sem.Acquire(ctx, 1); err != nil {
		result = observability.ResultError("CANCELLED")
		return fmt.Errorf("failed to acquire admission slot: %w", err)
	}

	stats.Record(ctx, mAcquired.M(1))
	return nil
}

// Release frees a slot.
func (g *Gate) Release() {
	g.sem.Release(1)
}
