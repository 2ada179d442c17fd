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

package middleware

import (
	"fmt"
	"net/http"

	"github.com/townsuite/codesigning/pkg/api"
	"github.com/townsuite/codesigning/pkg/controller"
	"github.com/townsuite/codesigning/pkg/render"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	headerRequestID = "X-Request-ID"
	headerBatchID   = api.HeaderBatchID
)

// PopulateRequestID populates the request context with a random UUID if one
// does not already exist. The id is echoed in the X-Request-ID response header.
func PopulateRequestID(h *render.Renderer) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			existing := controller.RequestIDFromContext(ctx)
			if existing == "" {
				u, err := uuid.NewRandom()
				if err != nil {
					controller.InternalError(w, r, h, fmt.Errorf("failed to generate request id: %w", err))
					return
				}

				existing = u.String()
				ctx = controller.WithRequestID(ctx, existing)
				r = r.Clone(ctx)
			}

			w.Header().Set(headerRequestID, existing)
			next.ServeHTTP(w, r)
		})
	}
}
