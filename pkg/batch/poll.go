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

package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/townsuite/codesigning/pkg/jobstore"
	"github.com/townsuite/codesigning/pkg/observability"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/google/uuid"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

// Status is the outcome of a poll.
type Status int

const (
	StatusNotFound Status = iota
	StatusNotReady
	StatusSigned
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusNotReady:
		return "NOT_READY"
	case StatusSigned:
		return "SIGNED"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the answer to a poll.
type Result struct {
	Status Status

	// Body streams the signed payload, or the signature in detached mode. It is
	// set only for StatusSigned and must be closed by the caller.
	Body io.ReadCloser

	// Detail is the stored error text for StatusFailed.
	Detail string
}

// Poll returns the state of job jobID. A signed job that is not part of a
// batch has its working directory removed when Body is closed. Batched jobs
// are left for the reaper so their siblings stay pollable.
func (c *Coordinator) Poll(ctx context.Context, batchID, jobID string) (*Result, error) {
	key, err := ParseBatchID(batchID)
	if err != nil {
		return nil, err
	}

	r, err := c.poll(ctx, key, jobID)
	if err != nil {
		return nil, err
	}

	mode := tag.Upsert(observability.ModeTagKey, c.mode.String())
	status := tag.Upsert(statusTagKey, r.Status.String())
	if err := stats.RecordWithTags(ctx, []tag.Mutator{mode, status}, mPolls.M(1)); err != nil {
		logging.FromContext(ctx).Named("batch.Poll").Warnw("failed to record poll", "error", err)
	}
	return r, nil
}

func (c *Coordinator) poll(ctx context.Context, key, jobID string) (*Result, error) {
	// Job ids are minted by Accept, so anything else is unknown.
	u, err := uuid.Parse(jobID)
	if err != nil {
		return &Result{Status: StatusNotFound}, nil
	}
	jobID = u.String()

	batched := key != ""
	if !batched {
		key = jobID
	}

	st, err := c.store.Status(ctx, key, jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return &Result{Status: StatusNotFound}, nil
		}
		return nil, fmt.Errorf("failed to read job state: %w", err)
	}

	switch st.State {
	case jobstore.StatePending, jobstore.StateProcessing:
		return &Result{Status: StatusNotReady}, nil
	case jobstore.StateErrored:
		return &Result{Status: StatusFailed, Detail: st.Message}, nil
	case jobstore.StateSigned:
	default:
		return nil, fmt.Errorf("unknown job state %s", st.State)
	}

	var body io.ReadCloser
	if c.mode == ModeDetached {
		if batched {
			done, err := c.store.BatchSigned(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to read batch state: %w", err)
			}
			if !done {
				return &Result{Status: StatusNotReady}, nil
			}
		}
		body, err = c.store.OpenSignature(ctx, key, jobID)
	} else {
		body, err = c.store.OpenPayload(ctx, key, jobID)
	}
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return &Result{Status: StatusNotFound}, nil
		}
		return nil, fmt.Errorf("failed to open result: %w", err)
	}

	if !batched {
		body = &removeOnClose{
			ReadCloser: body,
			remove: func() error {
				return c.store.Remove(context.Background(), key)
			},
		}
	}
	return &Result{Status: StatusSigned, Body: body}, nil
}

// removeOnClose removes a working directory once the result stream is closed.
type removeOnClose struct {
	io.ReadCloser

	once   sync.Once
	remove func() error
}

func (r *removeOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(func() {
		if rerr := r.remove(); rerr != nil && err == nil {
			err = rerr
		}
	})
	return err
}
