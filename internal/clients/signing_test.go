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

package clients

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/townsuite/codesigning/internal/project"
	"github.com/townsuite/codesigning/pkg/api"

	"github.com/google/go-cmp/cmp"
)

func TestSigningClient_Health(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)

	cases := []struct {
		name    string
		handler http.HandlerFunc
		err     bool
	}{
		{
			name: "ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":"ok"}`))
			},
		},
		{
			name: "degraded",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":"degraded"}`))
			},
			err: true,
		},
		{
			name: "not_json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html></html>`))
			},
			err: true,
		},
		{
			name: "down",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad gateway", http.StatusBadGateway)
			},
			err: true,
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tc.handler)
			t.Cleanup(srv.Close)

			c, err := NewSigningClient(srv.URL, false)
			if err != nil {
				t.Fatal(err)
			}

			err = c.Health(ctx)
			if (err != nil) != tc.err {
				t.Errorf("expected error %t, got %v", tc.err, err)
			}
		})
	}
}

func TestSigningClient_Upload(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)

	type seen struct {
		Path    string
		BatchID string
		Ready   bool
		Body    string
	}

	var mu sync.Mutex
	var got seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)

		mu.Lock()
		defer mu.Unlock()
		got = seen{
			Path:    r.URL.Path,
			BatchID: r.Header.Get(api.HeaderBatchID),
			Ready:   len(r.Header.Values(api.HeaderBatchReady)) > 0,
			Body:    string(b),
		}

		if string(b) == "conflict" {
			w.Header().Set("Content-Type", api.ProblemContentType)
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"type":"about:blank","title":"Conflict","status":409,"detail":"batch was already triggered"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`"job-1"` + "\n"))
	}))
	t.Cleanup(srv.Close)

	c, err := NewSigningClient(srv.URL, true)
	if err != nil {
		t.Fatal(err)
	}

	id, err := c.Upload(ctx, "batch-1", true, strings.NewReader("payload"), 7)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := id, "job-1"; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}
	mu.Lock()
	if diff := cmp.Diff(seen{
		Path:    api.PathSignDetached,
		BatchID: "batch-1",
		Ready:   true,
		Body:    "payload",
	}, got); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
	mu.Unlock()

	_, err = c.Upload(ctx, "", false, strings.NewReader("conflict"), -1)
	if err == nil {
		t.Fatal("expected error")
	}
	if got, want := StatusCode(err), http.StatusConflict; got != want {
		t.Errorf("expected %d to be %d", got, want)
	}

	var p *api.Problem
	if !errors.As(err, &p) {
		t.Fatalf("expected %v to wrap a problem", err)
	}
	if got, want := p.Detail, "batch was already triggered"; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}
	mu.Lock()
	if got.BatchID != "" || got.Ready {
		t.Errorf("expected no batch headers, got %#v", got)
	}
	mu.Unlock()
}

func TestSigningClient_Poll(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.URL.Path, api.PathSignBatch; got != want {
			t.Errorf("expected %q to be %q", got, want)
		}

		switch r.URL.Query().Get(api.QueryJobID) {
		case "signed":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte("signed bytes"))
		case "pending":
			w.Header().Set("Content-Type", api.ProblemContentType)
			w.WriteHeader(http.StatusTooEarly)
			w.Write([]byte(`{"type":"about:blank","title":"Too Early","status":425}`))
		case "failed":
			w.Header().Set("Content-Type", api.ProblemContentType)
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"type":"about:blank","title":"Internal Server Error","status":500,"detail":"exit code 1"}`))
		case "limited":
			http.Error(w, "slow down", http.StatusTooManyRequests)
		default:
			w.Header().Set("Content-Type", api.ProblemContentType)
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"type":"about:blank","title":"Not Found","status":404}`))
		}
	}))
	t.Cleanup(srv.Close)

	c, err := NewSigningClient(srv.URL, false)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		id     string
		status PollStatus
		body   string
		detail string
	}{
		{id: "signed", status: PollSigned, body: "signed bytes"},
		{id: "pending", status: PollNotReady},
		{id: "failed", status: PollFailed, detail: "exit code 1"},
		{id: "unknown", status: PollNotFound},
	}

	for _, tc := range cases {
		res, err := c.Poll(ctx, "", tc.id)
		if err != nil {
			t.Fatalf("%s: %s", tc.id, err)
		}
		if got, want := res.Status, tc.status; got != want {
			t.Errorf("%s: expected %s to be %s", tc.id, got, want)
		}
		if got, want := res.Detail, tc.detail; got != want {
			t.Errorf("%s: expected %q to be %q", tc.id, got, want)
		}
		if res.Body != nil {
			b, err := io.ReadAll(res.Body)
			res.Body.Close()
			if err != nil {
				t.Fatal(err)
			}
			if got, want := string(b), tc.body; got != want {
				t.Errorf("%s: expected %q to be %q", tc.id, got, want)
			}
		}
	}

	_, err = c.Poll(ctx, "", "limited")
	if got, want := StatusCode(err), http.StatusTooManyRequests; got != want {
		t.Errorf("expected %d to be %d: %v", got, want, err)
	}
}

func TestPollStatus_String(t *testing.T) {
	t.Parallel()

	if got, want := PollStatus(9).String(), "PollStatus(9)"; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}
}
