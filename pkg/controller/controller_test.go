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

package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/townsuite/codesigning/internal/project"
	"github.com/townsuite/codesigning/pkg/api"
	"github.com/townsuite/codesigning/pkg/render"

	"github.com/google/go-cmp/cmp"
)

func TestRequestIDFromContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}

	ctx = context.WithValue(ctx, contextKeyRequestID, 12)
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("expected empty request id for wrong type, got %q", got)
	}

	ctx = WithRequestID(ctx, "abc")
	if got, want := RequestIDFromContext(ctx), "abc"; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}
}

func TestHandleHealthz(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	h := render.New(ctx, false)

	r := httptest.NewRequest(http.MethodGet, api.PathHealthz, nil)
	w := httptest.NewRecorder()
	HandleHealthz(h).ServeHTTP(w, r)

	if got, want := w.Code, http.StatusOK; got != want {
		t.Errorf("expected %d to be %d", got, want)
	}

	var got api.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(api.HealthResponse{Status: "ok"}, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestInternalError(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	h := render.New(ctx, true)

	r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	InternalError(w, r, h, fmt.Errorf("failed to open payload"))

	if got, want := w.Code, http.StatusInternalServerError; got != want {
		t.Errorf("expected %d to be %d", got, want)
	}

	var p api.Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if got, want := p.Detail, "failed to open payload"; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}
}

func TestIsMaxBytesError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	body := http.MaxBytesReader(w, io.NopCloser(strings.NewReader("0123456789")), 4)
	_, err := io.ReadAll(body)
	if err == nil {
		t.Fatal("expected error")
	}

	if !IsMaxBytesError(err) {
		t.Errorf("expected %v to be a max bytes error", err)
	}
	if !IsMaxBytesError(fmt.Errorf("wrapped: %w", err)) {
		t.Errorf("expected wrapped %v to be a max bytes error", err)
	}
	if IsMaxBytesError(errors.New("other")) {
		t.Errorf("expected plain error not to be a max bytes error")
	}
}
