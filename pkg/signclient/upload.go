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

package signclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/townsuite/codesigning/internal/clients"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// FileState is the client side state of an uploaded file.
type FileState int

const (
	StatePending FileState = iota
	StateSucceeded
	StateFailed
)

func (s FileState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("FileState(%d)", int(s))
	}
}

// TrackedFile is an uploaded file awaiting its result.
type TrackedFile struct {
	Path    string
	BatchID string
	JobID   string
	Size    int64

	state FileState
}

// State returns the current state of the file.
func (t *TrackedFile) State() FileState {
	return t.state
}

// uploadBackoff is the base of the fibonacci backoff between upload and poll
// attempts.
var uploadBackoff = 500 * time.Millisecond

// UploadBatch uploads paths as one batch under a fresh batch id. Every upload
// but the last runs with bounded parallelism; the last one carries the ready
// flag and is only sent once the others have finished.
//
// Failed uploads are returned as failures. With quick-fail enabled the first
// failure stops any further upload and ErrQuickFail is returned.
func (c *Client) UploadBatch(ctx context.Context, paths []string) ([]*TrackedFile, []*Failure, error) {
	if len(paths) == 0 {
		return nil, nil, nil
	}

	batchID := uuid.New().String()
	logger := logging.FromContext(ctx).Named("signclient.UploadBatch").With("batch_id", batchID)
	ctx = logging.WithLogger(ctx, logger)

	var mu sync.Mutex
	uploaded := make([]*TrackedFile, len(paths))
	var failures []*Failure

	last := len(paths) - 1

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.UploadConcurrency)
	for i, pth := range paths[:last] {
		if gctx.Err() != nil {
			break
		}

		i, pth := i, pth
		g.Go(func() error {
			// A quick-fail may have happened while this upload waited for a slot.
			if gctx.Err() != nil {
				return nil
			}

			tf, err := c.upload(gctx, batchID, pth, false)
			if err != nil {
				if gctx.Err() != nil && errors.Is(err, context.Canceled) {
					return nil
				}

				mu.Lock()
				failures = append(failures, &Failure{Path: pth, Message: err.Error()})
				mu.Unlock()

				if c.quickFail() {
					return fmt.Errorf("%w: %s: %s", ErrQuickFail, pth, err)
				}
				return nil
			}

			uploaded[i] = tf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return compact(uploaded), failures, err
	}
	if err := ctx.Err(); err != nil {
		return compact(uploaded), failures, err
	}

	tf, err := c.upload(ctx, batchID, paths[last], true)
	if err != nil {
		failures = append(failures, &Failure{Path: paths[last], Message: err.Error()})

		pending := compact(uploaded)
		if errors.Is(err, errReadyLost) {
			// The batch was triggered, only the job id of the last file is
			// unknown. Everything else is still signed and can be polled.
			logger.Warnw("final upload was accepted but its response was lost",
				"file", paths[last],
				"uploaded", len(pending))
			if c.quickFail() {
				return pending, failures, fmt.Errorf("%w: %s: %s", ErrQuickFail, paths[last], err)
			}
			return pending, failures, nil
		}

		// Without the ready flag the server never processes the batch, so
		// nothing uploaded so far can be signed.
		for _, p := range pending {
			p.state = StateFailed
			failures = append(failures, &Failure{
				Path:    p.Path,
				Message: "batch was never marked ready: final upload failed",
			})
		}
		if c.quickFail() {
			return pending, failures, fmt.Errorf("%w: %s: %s", ErrQuickFail, paths[last], err)
		}
		return pending, failures, nil
	}
	uploaded[last] = tf

	tracked := compact(uploaded)
	logger.Infow("uploaded batch",
		"uploaded", len(tracked),
		"failed", len(failures))
	return tracked, failures, nil
}

// errReadyLost is returned when a retried ready upload is rejected because the
// batch was already triggered. An earlier attempt reached the server but its
// response never arrived.
var errReadyLost = errors.New("batch was triggered but the job id of the final upload was lost")

// upload sends one file, retrying transport errors, rate limiting and server
// errors.
func (c *Client) upload(ctx context.Context, batchID, pth string, ready bool) (*TrackedFile, error) {
	logger := logging.FromContext(ctx).Named("signclient.upload")

	fi, err := os.Stat(pth)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	b := retry.NewFibonacci(uploadBackoff)
	b = retry.WithMaxRetries(c.cfg.Retries, b)
	b = retry.WithCappedDuration(10*time.Second, b)

	var jobID string
	var attempts int
	if err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++

		f, err := os.Open(pth)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()

		id, err := c.api.Upload(ctx, batchID, ready, f, fi.Size())
		if err != nil {
			if retryable(err) {
				logger.Debugw("upload failed, retrying", "file", pth, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		jobID = id
		return nil
	}); err != nil {
		if ready && attempts > 1 && clients.StatusCode(err) == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", errReadyLost, err)
		}
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	logger.Debugw("uploaded file",
		"file", pth,
		"job_id", jobID,
		"size", humanize.Bytes(uint64(fi.Size())),
		"ready", ready)

	return &TrackedFile{
		Path:    pth,
		BatchID: batchID,
		JobID:   jobID,
		Size:    fi.Size(),
	}, nil
}

// retryable reports whether a failed request is worth repeating. Errors that
// carry no status are transport failures.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	code := clients.StatusCode(err)
	switch {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func compact(in []*TrackedFile) []*TrackedFile {
	out := make([]*TrackedFile, 0, len(in))
	for _, t := range in {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}
