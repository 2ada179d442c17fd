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

// Package signing implements the upload and poll endpoints of the signing
// server.
package signing

import (
	"context"
	"io"

	"github.com/townsuite/codesigning/pkg/batch"
	"github.com/townsuite/codesigning/pkg/render"
)

// Coordinator is the batch logic behind the endpoints.
type Coordinator interface {
	Accept(ctx context.Context, batchID string, ready bool, payload io.Reader) (string, error)
	Poll(ctx context.Context, batchID, jobID string) (*batch.Result, error)
}

var _ Coordinator = (*batch.Coordinator)(nil)

// Controller serves one signing route, either /sign/batch or /sign/detached.
type Controller struct {
	coord       Coordinator
	maxBodySize int64
	h           *render.Renderer
}

// New creates a new signing controller. Uploads larger than maxBodySize bytes
// are rejected.
func New(coord Coordinator, maxBodySize int64, h *render.Renderer) *Controller {
	return &Controller{
		coord:       coord,
		maxBodySize: maxBodySize,
		h:           h,
	}
}
