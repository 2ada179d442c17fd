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

package signing

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/townsuite/codesigning/internal/project"
	"github.com/townsuite/codesigning/pkg/api"
	"github.com/townsuite/codesigning/pkg/batch"
	"github.com/townsuite/codesigning/pkg/controller"
)

// HandleUpload accepts a raw payload and responds with its job id as a JSON
// string. Signing happens in the background.
func (c *Controller) HandleUpload() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		logger := logging.FromContext(ctx).Named("signing.HandleUpload")

		body := http.MaxBytesReader(w, r.Body, c.maxBodySize)
		defer body.Close()

		batchID := r.Header.Get(api.HeaderBatchID)
		ready := project.TrimSpace(r.Header.Get(api.HeaderBatchReady)) != ""

		id, err := c.coord.Accept(ctx, batchID, ready, body)
		if err != nil {
			switch {
			case errors.Is(err, batch.ErrInvalidBatchID):
				controller.BadRequest(w, r, c.h, err)
			case errors.Is(err, batch.ErrBatchClosed):
				c.h.RenderProblem(w, http.StatusConflict, fmt.Sprintf("batch %s was already triggered", batchID))
			case controller.IsMaxBytesError(err):
				c.h.RenderProblem(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("payload exceeds %d bytes", c.maxBodySize))
			default:
				controller.InternalError(w, r, c.h, err)
			}
			return
		}

		logger.Debugw("accepted upload", "job_id", id, "ready", ready)
		c.h.RenderJSON(w, http.StatusOK, id)
	})
}
