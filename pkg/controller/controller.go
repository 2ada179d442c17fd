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

// Package controller defines common utilities used by the signing server's
// HTTP controllers.
package controller

import (
	"errors"
	"net/http"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/townsuite/codesigning/pkg/render"
)

// InternalError logs err and renders a 500 problem detail. The error text is
// only sent to the client in debug mode.
func InternalError(w http.ResponseWriter, r *http.Request, h *render.Renderer, err error) {
	logger := logging.FromContext(r.Context())
	logger.Errorw("internal error", "error", err)

	h.RenderProblem500(w, err)
}

// BadRequest renders a 400 problem detail with the error as the detail.
func BadRequest(w http.ResponseWriter, r *http.Request, h *render.Renderer, err error) {
	h.RenderProblem(w, http.StatusBadRequest, err.Error())
}

// IsMaxBytesError reports whether err came from reading past an
// http.MaxBytesReader limit.
func IsMaxBytesError(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
