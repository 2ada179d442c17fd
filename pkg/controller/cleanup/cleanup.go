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

// Package cleanup exposes an on-demand sweep of expired working directories,
// for deployments that prefer an external scheduler over the in-process
// reaper loop.
package cleanup

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/townsuite/codesigning/internal/project"
	"github.com/townsuite/codesigning/pkg/observability"
	"github.com/townsuite/codesigning/pkg/render"

	"github.com/hashicorp/go-multierror"
)

// Sweeper removes expired working directories.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Controller is a controller for the cleanup endpoint.
type Controller struct {
	sweeper Sweeper
	h       *render.Renderer

	// running guards against overlapping sweeps.
	running sync.Mutex
}

// New creates a new cleanup controller.
func New(sweeper Sweeper, h *render.Renderer) *Controller {
	return &Controller{
		sweeper: sweeper,
		h:       h,
	}
}

// Result is the cleanup response body.
type Result struct {
	OK     bool     `json:"ok"`
	Count  int      `json:"count"`
	Errors []string `json:"errors,omitempty"`
}

// HandleCleanup runs one sweep and reports how many directories it removed.
func (c *Controller) HandleCleanup() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		logger := logging.FromContext(ctx).Named("cleanup.HandleCleanup")

		result := observability.ResultOK()
		defer observability.RecordLatency(ctx, time.Now(), mLatencyMs, &result)

		if !c.running.TryLock() {
			logger.Debugw("skipping, sweep already running")
			result = observability.ResultError("ALREADY_RUNNING")
			c.h.RenderJSON(w, http.StatusOK, &Result{
				OK:     false,
				Errors: []string{"sweep already running"},
			})
			return
		}
		defer c.running.Unlock()

		count, err := c.sweeper.Sweep(ctx)
		if err != nil {
			logger.Errorw("sweep failed", "removed", count, "error", err)
			result = observability.ResultError("FAILED")

			errs := []error{err}
			var merr *multierror.Error
			if errors.As(err, &merr) {
				errs = merr.WrappedErrors()
			}

			c.h.RenderJSON(w, http.StatusInternalServerError, &Result{
				OK:     false,
				Count:  count,
				Errors: project.ErrorsToStrings(errs),
			})
			return
		}

		logger.Infow("swept working directories", "removed", count)
		c.h.RenderJSON(w, http.StatusOK, &Result{OK: true, Count: count})
	})
}
