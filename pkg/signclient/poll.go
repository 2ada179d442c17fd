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
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/townsuite/codesigning/internal/clients"
)

// stillPollingEvery is the number of polling passes between progress logs.
const stillPollingEvery = 60

// PollBatch polls every pending tracked file once per PollInterval until each
// one is resolved or BatchTimeout elapses. Signed results are written to disk
// as they arrive. Files that fail, or are still pending at the deadline, are
// returned as failures.
//
// Transport errors are retried on the next pass, up to Retries consecutive
// errors per file.
func (c *Client) PollBatch(ctx context.Context, tracked []*TrackedFile) ([]*Failure, error) {
	logger := logging.FromContext(ctx).Named("signclient.PollBatch")

	var pending []*TrackedFile
	for _, tf := range tracked {
		if tf.state == StatePending {
			pending = append(pending, tf)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	start := time.Now()
	deadlineCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var failures []*Failure
	errCount := make(map[*TrackedFile]uint64, len(pending))

	for pass := 1; ; pass++ {
		next := make([]*TrackedFile, 0, len(pending))
		for _, tf := range pending {
			if deadlineCtx.Err() != nil {
				next = append(next, tf)
				continue
			}

			done, err := c.pollOne(deadlineCtx, tf)
			switch {
			case err != nil && !done && deadlineCtx.Err() != nil:
				// Interrupted by the deadline, reported below.
				next = append(next, tf)
				continue
			case err != nil && !done:
				errCount[tf]++
				if errCount[tf] <= c.cfg.Retries {
					logger.Debugw("poll failed, retrying", "file", tf.Path, "error", err)
					next = append(next, tf)
					continue
				}
				tf.state = StateFailed
			case err != nil:
				tf.state = StateFailed
			case !done:
				delete(errCount, tf)
				next = append(next, tf)
				continue
			default:
				tf.state = StateSucceeded
				logger.Debugw("signed", "file", tf.Path, "job_id", tf.JobID)
				continue
			}

			failures = append(failures, &Failure{Path: tf.Path, Message: err.Error()})
			if c.quickFail() {
				return failures, fmt.Errorf("%w: %s: %s", ErrQuickFail, tf.Path, err)
			}
		}
		pending = next

		if len(pending) == 0 {
			return failures, nil
		}
		if pass%stillPollingEvery == 0 {
			logger.Infow("still polling",
				"remaining", len(pending),
				"elapsed", time.Since(start).Round(time.Second).String())
		}

		select {
		case <-deadlineCtx.Done():
			if err := ctx.Err(); err != nil {
				return failures, err
			}
			for _, tf := range pending {
				tf.state = StateFailed
				failures = append(failures, &Failure{
					Path:    tf.Path,
					Message: fmt.Sprintf("no result within %s", c.cfg.BatchTimeout),
				})
			}
			if c.quickFail() {
				return failures, fmt.Errorf("%w: batch timed out", ErrQuickFail)
			}
			return failures, nil
		case <-ticker.C:
		}
	}
}

// pollOne polls a single file. It returns done=true when the file reached a
// terminal state: a nil error means the result was written, a non-nil error
// is the failure. With done=false a nil error means the file is still pending
// and a non-nil error is a transport failure worth retrying.
func (c *Client) pollOne(ctx context.Context, tf *TrackedFile) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.api.Poll(ctx, tf.BatchID, tf.JobID)
	if err != nil {
		if code := clients.StatusCode(err); code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return true, fmt.Errorf("poll rejected: %w", err)
		}
		return false, err
	}

	switch res.Status {
	case clients.PollNotReady:
		return false, nil
	case clients.PollNotFound:
		return true, fmt.Errorf("job %s not found on the server", tf.JobID)
	case clients.PollFailed:
		detail := res.Detail
		if detail == "" {
			detail = "signing failed without detail"
		}
		return true, errors.New(detail)
	case clients.PollSigned:
		defer res.Body.Close()
		if err := writeFile(c.outputPath(tf.Path), res.Body); err != nil {
			// Batched results stay on the server until reaped, so a broken
			// download is retried.
			return false, fmt.Errorf("failed to download result: %w", err)
		}
		return true, nil
	default:
		return true, fmt.Errorf("unexpected poll status %s", res.Status)
	}
}

// outputPath is where the signed result of pth is written.
func (c *Client) outputPath(pth string) string {
	if c.cfg.Detached {
		return pth + ".sig"
	}
	return pth
}

// writeFile replaces dst with the content of r. The content is staged in a
// temporary file next to dst so a failed download never truncates dst. An
// existing dst keeps its permissions.
func writeFile(dst string, r io.Reader) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(dst); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to replace %s: %w", dst, err)
	}
	return nil
}
