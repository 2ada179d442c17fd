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

// Package batch implements the batch coordinator. It accepts uploads into
// working directories, triggers execution when a batch becomes ready and
// answers polls for the result of each job.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/townsuite/codesigning/pkg/executor"
	"github.com/townsuite/codesigning/pkg/jobstore"
	"github.com/townsuite/codesigning/pkg/observability"
	"github.com/townsuite/codesigning/pkg/signer"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/google/uuid"
	"go.opencensus.io/tag"
)

var (
	// ErrInvalidBatchID is returned when a batch id is not a UUID.
	ErrInvalidBatchID = errors.New("invalid batch id")

	// ErrBatchClosed is returned when uploading into a batch that was already
	// triggered.
	ErrBatchClosed = errors.New("batch already triggered")
)

const msgEmptyPayload = "payload is empty, nothing to sign"

// Mode is the signing mode of a coordinator.
type Mode int

const (
	// ModeEmbedded signs payloads in place and serves the signed payload.
	ModeEmbedded Mode = iota

	// ModeDetached serves a separate signature for each payload.
	ModeDetached
)

func (m Mode) String() string {
	if m == ModeDetached {
		return "detached"
	}
	return "embedded"
}

// Enqueuer queues signing work.
type Enqueuer interface {
	Enqueue(ctx context.Context, t *executor.Task) error
}

// Coordinator is the batch coordinator for one signing mode.
type Coordinator struct {
	store  jobstore.Store
	exec   Enqueuer
	signer signer.Signer
	mode   Mode

	locks *keyLocks
	newID func() string
}

// New creates a coordinator. Coordinators for different modes may share a
// store and an executor.
func New(store jobstore.Store, exec Enqueuer, s signer.Signer, mode Mode) *Coordinator {
	return &Coordinator{
		store:  store,
		exec:   exec,
		signer: s,
		mode:   mode,
		locks:  newKeyLocks(),
		newID:  func() string { return uuid.New().String() },
	}
}

// Mode is the signing mode of the coordinator.
func (c *Coordinator) Mode() Mode {
	return c.mode
}

// ParseBatchID validates a batch id and returns its canonical form. An empty
// id is valid and means the upload is not part of a batch.
func ParseBatchID(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidBatchID, s)
	}
	return u.String(), nil
}

// Accept stores payload as a new job and returns its id. Uploads without a
// batch id are executed right away. Uploads into a batch are held until the
// upload with ready set arrives, which triggers every payload stored in the
// batch. Once a batch is triggered, further uploads into it fail with
// ErrBatchClosed.
//
// Accept returns once the payload is stored. Signing happens in the
// background.
func (c *Coordinator) Accept(ctx context.Context, batchID string, ready bool, payload io.Reader) (string, error) {
	start := time.Now()
	result := observability.ResultOK()
	mode := tag.Upsert(observability.ModeTagKey, c.mode.String())
	defer observability.RecordLatency(ctx, start, mAcceptLatencyMs, &result, &mode)

	key, err := ParseBatchID(batchID)
	if err != nil {
		result = observability.ResultError("INVALID_BATCH_ID")
		return "", err
	}

	id := c.newID()
	if key == "" {
		if err := c.acceptSingle(ctx, id, payload); err != nil {
			result = observability.ResultError("FAILED")
			return "", err
		}
		return id, nil
	}

	if err := c.acceptBatched(ctx, key, id, ready, payload); err != nil {
		result = observability.ResultError("FAILED")
		if errors.Is(err, ErrBatchClosed) {
			result = observability.ResultError("BATCH_CLOSED")
		}
		return "", err
	}
	return id, nil
}

func (c *Coordinator) acceptSingle(ctx context.Context, id string, payload io.Reader) error {
	logger := logging.FromContext(ctx).Named("batch.acceptSingle")

	if err := c.store.Create(ctx, id); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	n, err := c.store.Put(ctx, id, id, payload)
	if err != nil {
		if rerr := c.store.Remove(ctx, id); rerr != nil {
			logger.Warnw("failed to remove working directory", "job_id", id, "error", rerr)
		}
		return fmt.Errorf("failed to store payload: %w", err)
	}
	if n == 0 {
		return c.rejectEmpty(ctx, id, id)
	}

	if err := c.exec.Enqueue(ctx, c.task(id, []string{id}, false)); err != nil {
		return fmt.Errorf("failed to queue job: %w", err)
	}
	logger.Debugw("accepted job", "job_id", id, "mode", c.mode.String())
	return nil
}

func (c *Coordinator) acceptBatched(ctx context.Context, key, id string, ready bool, payload io.Reader) error {
	logger := logging.FromContext(ctx).Named("batch.acceptBatched").
		With("batch_id", key).
		With("job_id", id)

	// Siblings stream concurrently under the shared lock. The ready upload is
	// exclusive so no sibling can land after the batch is listed.
	var unlock func()
	if ready {
		unlock = c.locks.Lock(key)
	} else {
		unlock = c.locks.RLock(key)
	}

	ids, err := func() ([]string, error) {
		defer unlock()

		if err := c.store.Create(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to create working directory: %w", err)
		}

		triggered, err := c.store.IsReady(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to check batch state: %w", err)
		}
		if triggered {
			return nil, ErrBatchClosed
		}

		n, err := c.store.Put(ctx, key, id, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to store payload: %w", err)
		}
		if n == 0 {
			if err := c.rejectEmpty(ctx, key, id); err != nil {
				return nil, err
			}
		}
		if !ready {
			return nil, nil
		}

		if err := c.store.MarkReady(ctx, key); err != nil {
			if errors.Is(err, jobstore.ErrAlreadyReady) {
				return nil, ErrBatchClosed
			}
			return nil, fmt.Errorf("failed to mark batch ready: %w", err)
		}
		return c.pendingJobs(ctx, key)
	}()
	if err != nil {
		return err
	}

	if !ready {
		logger.Debugw("accepted batch member")
		return nil
	}
	if len(ids) == 0 {
		logger.Infow("batch ready without signable payloads")
		return nil
	}

	if err := c.exec.Enqueue(ctx, c.task(key, ids, true)); err != nil {
		return fmt.Errorf("failed to queue batch: %w", err)
	}
	logger.Infow("batch ready", "jobs", len(ids), "mode", c.mode.String())
	return nil
}

// rejectEmpty finishes a job with an empty payload as errored. There is nothing
// to sign, so it never reaches the executor.
func (c *Coordinator) rejectEmpty(ctx context.Context, key, id string) error {
	logging.FromContext(ctx).Named("batch.rejectEmpty").
		Debugw("rejected empty payload", "key", key, "job_id", id)

	if err := c.store.Finish(ctx, key, id, jobstore.StateErrored, msgEmptyPayload); err != nil {
		return fmt.Errorf("failed to reject empty payload: %w", err)
	}
	return nil
}

// pendingJobs lists the jobs of key that still need signing.
func (c *Coordinator) pendingJobs(ctx context.Context, key string) ([]string, error) {
	ids, err := c.store.Jobs(ctx, key)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		st, err := c.store.Status(ctx, key, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read job state: %w", err)
		}
		if !st.State.Terminal() {
			out = append(out, id)
		}
	}
	return out, nil
}

func (c *Coordinator) task(key string, ids []string, batched bool) *executor.Task {
	return &executor.Task{
		Key:      key,
		IDs:      ids,
		Signer:   c.signer,
		Detached: c.mode == ModeDetached,
		Batched:  batched,
	}
}
