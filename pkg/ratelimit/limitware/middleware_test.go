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

package limitware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/townsuite/codesigning/internal/project"
	"github.com/townsuite/codesigning/pkg/api"
	"github.com/townsuite/codesigning/pkg/render"

	"github.com/sethvargo/go-limiter/httplimit"
	"github.com/sethvargo/go-limiter/memorystore"
)

func TestNewMiddleware(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	h := render.New(ctx, false)

	store, err := memorystore.New(&memorystore.Config{Tokens: 1, Interval: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close(ctx) })

	if _, err := NewMiddleware(ctx, nil, IPAddressKeyFunc("", nil), h); err == nil {
		t.Errorf("expected error for nil store")
	}
	if _, err := NewMiddleware(ctx, store, nil, h); err == nil {
		t.Errorf("expected error for nil key func")
	}
}

func TestMiddleware_Handle(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	h := render.New(ctx, false)

	store, err := memorystore.New(&memorystore.Config{Tokens: 1, Interval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close(ctx) })

	m, err := NewMiddleware(ctx, store, IPAddressKeyFunc("upload:", []byte("k")), h)
	if err != nil {
		t.Fatal(err)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := m.Handle(next)

	do := func(remoteAddr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, api.PathSignBatch, nil).WithContext(ctx)
		r.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	first := do("10.0.0.1:1234")
	if got, want := first.Code, http.StatusOK; got != want {
		t.Fatalf("expected %d to be %d", got, want)
	}
	if got, want := first.Header().Get(httplimit.HeaderRateLimitLimit), "1"; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}
	if got, want := first.Header().Get(httplimit.HeaderRateLimitRemaining), "0"; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}

	// Same client on a different source port shares the bucket.
	second := do("10.0.0.1:4321")
	if got, want := second.Code, http.StatusTooManyRequests; got != want {
		t.Fatalf("expected %d to be %d", got, want)
	}
	if second.Header().Get(httplimit.HeaderRetryAfter) == "" {
		t.Errorf("expected %s header", httplimit.HeaderRetryAfter)
	}
	if got, want := second.Header().Get("Content-Type"), api.ProblemContentType; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}

	other := do("10.0.0.2:1234")
	if got, want := other.Code, http.StatusOK; got != want {
		t.Errorf("expected %d to be %d", got, want)
	}
}

func TestMiddleware_KeyFuncError(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	h := render.New(ctx, false)

	store, err := memorystore.New(&memorystore.Config{Tokens: 1, Interval: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close(ctx) })

	keyFunc := func(r *http.Request) (string, error) {
		return "", errors.New("no key")
	}
	m, err := NewMiddleware(ctx, store, keyFunc, h)
	if err != nil {
		t.Fatal(err)
	}

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	r := httptest.NewRequest(http.MethodPost, api.PathSignBatch, nil).WithContext(ctx)
	w := httptest.NewRecorder()
	m.Handle(next).ServeHTTP(w, r)

	if got, want := w.Code, http.StatusInternalServerError; got != want {
		t.Errorf("expected %d to be %d", got, want)
	}
	if called {
		t.Errorf("expected next handler not to be called")
	}
}

func TestIPAddressKeyFunc(t *testing.T) {
	t.Parallel()

	f := IPAddressKeyFunc("upload:", []byte("secret"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:555"

	key, err := f(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key, "upload:ip:") {
		t.Errorf("expected %q to have scope prefix", key)
	}
	if strings.Contains(key, "192.0.2.7") {
		t.Errorf("expected %q not to contain the raw address", key)
	}
}
