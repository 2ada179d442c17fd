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

// Package executor runs signing work in the background. Ready batches are
// placed on a bounded queue and consumed by a fixed pool of workers, so
// accepting an upload never waits for signing.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/townsuite/codesigning/pkg/admission"
	"github.com/townsuite/codesigning/pkg/jobstore"
	"github.com/townsuite/codesigning/pkg/observability"
	"github.com/townsuite/codesigning/pkg/signer"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

// ErrStopped is returned when enqueueing on a closed executor.
var ErrStopped = errors.New("executor stopped")

// Config is the executor configuration.
type Config struct {
	Workers   int
	QueueSize int
}

// Task is a set of jobs stored under one working directory key.
type Task struct {
	Key string
	IDs []string

	// Signer is invoked for the jobs of the task.
	Signer signer.Signer

	// Detached signs each job as its own invocation. When Batched is also set,
	// the batch-level signed marker is written once every job is finished.
	Detached bool

	// Batched reports whether Key is a batch id rather than the id of the only
	// job.
	Batched bool
}

func (t *Task) mode() string {
	if t.Detached {
		return "detached"
	}
	return "embedded"
}

// work is a single signer invocation.
type work struct {
	task *Task
	ids  []string

	// remaining counts the unfinished work items of a detached batch.
	remaining *int64
}

// Executor is a bounded queue plus a worker pool.
type Executor struct {
	ctx   context.Context
	store jobstore.Store
	gate  *admission.Gate

	queue  chan *work
	stopCh chan struct{}
	wg     sync.WaitGroup

	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

// New creates an executor and starts its workers. Workers run until Close is
// called or ctx is done.
func New(ctx context.Context, store jobstore.Store, gate *admission.Gate, cfg *Config) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("missing store")
	}
	if gate == nil {
		return nil, fmt.Errorf("missing admission gate")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be greater than 0, got %d", cfg.Workers)
	}
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("queue size must be greater than 0, got %d", cfg.QueueSize)
	}

	e := &Executor{
		ctx:    ctx,
		store:  store,
		gate:   gate,
		queue:  make(chan *work, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}

	e.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go e.worker(ctx)
	}
	return e, nil
}

// Enqueue queues t without waiting for it to be signed. It blocks only while
// the queue is full. Jobs that cannot be queued, because ctx is done or the
// executor is closed, are finished as errored before the error is returned so
// none of them stays pending.
func (e *Executor) Enqueue(ctx context.Context, t *Task) error {
	if t == nil || len(t.IDs) == 0 {
		return fmt.Errorf("task has no jobs")
	}
	if t.Signer == nil {
		return fmt.Errorf("task has no signer")
	}

	items := []*work{{task: t, ids: t.IDs}}
	if t.Detached {
		remaining := int64(len(t.IDs))
		items = make([]*work, 0, len(t.IDs))
		for _, id := range t.IDs {
			items = append(items, &work{task: t, ids: []string{id}, remaining: &remaining})
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for i, w := range items {
		var err error
		if e.stopped {
			err = ErrStopped
		} else {
			select {
			case e.queue <- w:
				stats.Record(ctx, mEnqueued.M(1))
				continue
			case <-ctx.Done():
				err = ctx.Err()
			case <-e.stopCh:
				err = ErrStopped
			}
		}

		err = fmt.Errorf("failed to queue signing work: %w", err)
		for _, rest := range items[i:] {
			e.fail(ctx, rest, err.Error())
		}
		return err
	}
	return nil
}

// Close stops accepting work, waits for running work to finish and fails
// anything still queued.
func (e *Executor) Close() error {
	e.stopOnce.Do(func() {
		close(e.stopCh)

		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
	})
	e.wg.Wait()

	// Work can land in the buffer while workers are exiting.
	e.drain(e.ctx, "server shutting down")
	return nil
}

func (e *Executor) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			e.drain(ctx, "server shutting down")
			return
		case <-e.stopCh:
			e.drain(ctx, "server shutting down")
			return
		case w := <-e.queue:
			e.process(ctx, w)
		}
	}
}

// drain fails queued work without invoking the signer.
func (e *Executor) drain(ctx context.Context, msg string) {
	for {
		select {
		case w := <-e.queue:
			e.fail(ctx, w, msg)
		default:
			return
		}
	}
}

func (e *Executor) process(ctx context.Context, w *work) {
	logger := logging.FromContext(ctx).Named("executor.process").
		With("key", w.task.Key).
		With("mode", w.task.mode())

	start := time.Now()
	result := observability.ResultOK()
	mode := tag.Upsert(observability.ModeTagKey, w.task.mode())
	defer observability.RecordLatency(ctx, start, mSignLatencyMs, &result, &mode)
	defer e.complete(ctx, w)

	for _, id := range w.ids {
		if err := e.store.MarkProcessing(ctx, w.task.Key, id); err != nil {
			logger.Warnw("failed to mark job processing", "job_id", id, "error", err)
		}
	}

	if err := e.gate.Acquire(ctx); err != nil {
		result = observability.ResultError("ADMISSION_FAILED")
		e.finish(ctx, w, jobstore.StateErrored, err.Error())
		return
	}
	defer e.gate.Release()

	files := make([]*signer.File, 0, len(w.ids))
	for _, id := range w.ids {
		files = append(files, &signer.File{
			ID:            id,
			Path:          e.store.PayloadPath(w.task.Key, id),
			SignaturePath: e.store.SignaturePath(w.task.Key, id),
		})
	}

	logger.Debugw("invoking signer", "jobs", len(files))
	res, err := safeSign(ctx, w.task.Signer, e.store.Dir(w.task.Key), files)
	if err != nil {
		logger.Errorw("signer failed", "error", err)
		result = observability.ResultError("SIGNER_ERROR")
		e.finish(ctx, w, jobstore.StateErrored, err.Error())
		e.discard(ctx, w)
		return
	}

	if !res.Signed {
		logger.Warnw("signing was rejected", "message", res.Message)
		result = observability.ResultError("NOT_SIGNED")
		msg := res.Message
		if msg == "" {
			msg = "signing failed"
		}
		e.finish(ctx, w, jobstore.StateErrored, msg)
		return
	}

	logger.Debugw("signed", "jobs", len(files))
	e.finish(ctx, w, jobstore.StateSigned, "")
}

// fail finishes every job of w as errored and completes it.
func (e *Executor) fail(ctx context.Context, w *work, msg string) {
	e.finish(ctx, w, jobstore.StateErrored, msg)
	e.complete(ctx, w)
}

func (e *Executor) finish(ctx context.Context, w *work, state jobstore.State, msg string) {
	logger := logging.FromContext(ctx).Named("executor.finish")

	for _, id := range w.ids {
		if err := e.store.Finish(ctx, w.task.Key, id, state, msg); err != nil {
			logger.Warnw("failed to finish job",
				"key", w.task.Key,
				"job_id", id,
				"state", state.String(),
				"error", err)
		}
	}
}

// discard removes any output of w so partial results are never served.
func (e *Executor) discard(ctx context.Context, w *work) {
	logger := logging.FromContext(ctx).Named("executor.discard")

	for _, id := range w.ids {
		if err := e.store.Discard(ctx, w.task.Key, id); err != nil {
			logger.Warnw("failed to discard job output", "key", w.task.Key, "job_id", id, "error", err)
		}
	}
}

// complete writes the batch-level marker once the last work item of a
// detached batch is done.
func (e *Executor) complete(ctx context.Context, w *work) {
	if w.remaining == nil || atomic.AddInt64(w.remaining, -1) != 0 {
		return
	}
	if !w.task.Batched {
		return
	}

	if err := e.store.MarkBatchSigned(ctx, w.task.Key); err != nil {
		logging.FromContext(ctx).Named("executor.complete").
			Warnw("failed to mark batch signed", "key", w.task.Key, "error", err)
	}
}

// safeSign invokes s, converting a panic into an error.
func safeSign(ctx context.Context, s signer.Signer, dir string, files []*signer.File) (res *signer.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("signer panic: %v", p)
		}
	}()

	res, err = s.Sign(ctx, dir, files)
	if err == nil && res == nil {
		err = fmt.Errorf("signer returned no result")
	}
	return res, err
}
