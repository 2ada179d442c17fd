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

// Package api defines the HTTP contract between the signing client and the
// signing server.
package api

import (
	"fmt"
	"net/http"
)

const (
	// HeaderBatchID groups uploads into a batch. The value must be a UUID.
	HeaderBatchID = "X-BatchId"

	// HeaderBatchReady marks the final upload of a batch. Any non-blank value
	// triggers signing.
	HeaderBatchReady = "X-BatchReady"

	// QueryJobID is the query parameter that carries the job id on polls.
	QueryJobID = "id"

	// ProblemContentType is the media type of problem detail responses.
	ProblemContentType = "application/problem+json"
)

// Route paths.
const (
	PathHealthz      = "/healthz"
	PathSignBatch    = "/sign/batch"
	PathSignDetached = "/sign/detached"
	PathCleanup      = "/cleanup"
)

// Problem is a problem detail response body.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NewProblem builds a problem for the given status code. The title is the
// standard status text.
func NewProblem(status int, detail string, vars ...interface{}) *Problem {
	if len(vars) > 0 {
		detail = fmt.Sprintf(detail, vars...)
	}

	return &Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// Error implements error so a problem can be returned by clients.
func (p *Problem) Error() string {
	if p.Detail == "" {
		return fmt.Sprintf("%d %s", p.Status, p.Title)
	}
	return fmt.Sprintf("%d %s: %s", p.Status, p.Title, p.Detail)
}

// HealthResponse is the body of the liveness endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
