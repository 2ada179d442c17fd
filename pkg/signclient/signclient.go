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

// Package signclient drives a signing run from the client side: it resolves
// and deduplicates the files to sign, uploads them as one batch, polls for the
// results and writes them back to disk.
package signclient

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/townsuite/codesigning/internal/clients"
	"github.com/townsuite/codesigning/pkg/config"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrQuickFail is returned when a failure aborted the run because quick-fail
	// was requested.
	ErrQuickFail = errors.New("aborted on first failure")

	// ErrUnhealthy is returned when the server failed the liveness probe.
	ErrUnhealthy = errors.New("signing server is not healthy")
)

// API is the signing server as seen by the client.
type API interface {
	Health(ctx context.Context) error
	Upload(ctx context.Context, batchID string, ready bool, body io.Reader, size int64) (string, error)
	Poll(ctx context.Context, batchID, jobID string) (*clients.PollResult, error)
}

var _ API = (*clients.SigningClient)(nil)

// Failure is a file that could not be signed.
type Failure struct {
	Path    string
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Path, f.Message)
}

// Report summarizes a run.
type Report struct {
	// Resolved is the number of files selected for signing, duplicates
	// included.
	Resolved int

	// Uploaded is the number of distinct payloads sent to the server.
	Uploaded int

	// Signed lists the files whose signed output was written, duplicates
	// included.
	Signed []string

	Failures []*Failure
}

// ErrorOrNil returns the failures as a single error, or nil if there were
// none.
func (r *Report) ErrorOrNil() error {
	var merr *multierror.Error
	for _, f := range r.Failures {
		merr = multierror.Append(merr, f)
	}
	return merr.ErrorOrNil()
}

// Client runs signing batches against one server.
type Client struct {
	cfg *config.ClientConfig
	api API
}

// New creates a client for the given configuration. The API is usually a
// *clients.SigningClient, see NewFromConfig.
func New(cfg *config.ClientConfig, api API) *Client {
	return &Client{
		cfg: cfg,
		api: api,
	}
}

// NewFromConfig creates a client that talks HTTP to cfg.URL.
func NewFromConfig(cfg *config.ClientConfig) (*Client, error) {
	api, err := clients.NewSigningClient(cfg.URL, cfg.Detached,
		clients.WithTimeout(cfg.RequestTimeout),
		clients.WithUserAgent("codesign"))
	if err != nil {
		return nil, fmt.Errorf("failed to create signing client: %w", err)
	}
	return New(cfg, api), nil
}

// quickFail reports whether the first failure should abort the run.
func (c *Client) quickFail() bool {
	return c.cfg.QuickFail && !c.cfg.IgnoreFailures
}

// Run signs every file the configuration selects. Failures of individual files
// are collected in the report. The returned error is ErrUnhealthy,
// ErrQuickFail or a setup failure; in those cases the report is partial.
func (c *Client) Run(ctx context.Context) (*Report, error) {
	logger := logging.FromContext(ctx).Named("signclient.Run")

	report := new(Report)

	paths, err := ResolveFiles(c.cfg)
	if err != nil {
		return report, err
	}
	report.Resolved = len(paths)
	if len(paths) == 0 {
		logger.Infow("no files to sign")
		return report, nil
	}

	if err := c.api.Health(ctx); err != nil {
		return report, fmt.Errorf("%w: %s", ErrUnhealthy, err)
	}

	dedup, err := Dedup(ctx, paths)
	if err != nil {
		return report, err
	}
	report.Uploaded = len(dedup.Unique)
	logger.Infow("resolved files",
		"files", len(paths),
		"unique", len(dedup.Unique),
		"duplicates", len(paths)-len(dedup.Unique))

	tracked, failures, err := c.UploadBatch(ctx, dedup.Unique)
	report.Failures = append(report.Failures, failures...)
	if err != nil {
		return report, err
	}

	failures, err = c.PollBatch(ctx, tracked)
	report.Failures = append(report.Failures, failures...)
	if err != nil {
		return report, err
	}

	signed := make(map[string]struct{}, len(tracked))
	for _, tf := range tracked {
		if tf.State() == StateSucceeded {
			signed[tf.Path] = struct{}{}
			report.Signed = append(report.Signed, tf.Path)
		}
	}

	copied, failures := c.DistributeDuplicates(dedup, signed)
	report.Signed = append(report.Signed, copied...)
	report.Failures = append(report.Failures, failures...)

	logger.Infow("finished",
		"signed", len(report.Signed),
		"failed", len(report.Failures))
	return report, nil
}
