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
	"github.com/townsuite/codesigning/pkg/api"
	"github.com/townsuite/codesigning/pkg/batch"
	"github.com/townsuite/codesigning/pkg/controller"
)

// HandlePoll reports the state of a job. Signed jobs stream their result,
// failed jobs answer with a problem detail carrying the stored error text.
func (c *Controller) HandlePoll() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		logger := logging.FromContext(ctx).Named("signing.HandlePoll")

		jobID := r.URL.Query().Get(api.QueryJobID)

		res, err := c.coord.Poll(ctx, r.Header.Get(api.HeaderBatchID), jobID)
		if err != nil {
			if errors.Is(err, batch.ErrInvalidBatchID) {
				controller.BadRequest(w, r, c.h, err)
				return
			}
			controller.InternalError(w, r, c.h, err)
			return
		}

		switch res.Status {
		case batch.StatusNotFound:
			c.h.RenderProblem(w, http.StatusNotFound, fmt.Sprintf("job %q not found", jobID))
		case batch.StatusNotReady:
			c.h.RenderProblem(w, http.StatusTooEarly, "")
		case batch.StatusFailed:
			logger.Debugw("job failed", "job_id", jobID, "detail", res.Detail)
			c.h.RenderProblem(w, http.StatusInternalServerError, res.Detail)
		case batch.StatusSigned:
			defer res.Body.Close()
			c.h.RenderStream(w, -1, res.Body)
		default:
			controller.InternalError(w, r, c.h, fmt.Errorf("unknown poll status %s", res.Status))
		}
	})
}
