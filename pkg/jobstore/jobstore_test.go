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

package jobstore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/townsuite/codesigning/internal/project"
)

// storeFactories are run through the shared store tests.
var storeFactories = map[string]func(tb testing.TB, opts ...Option) Store{
	"filesystem": func(tb testing.TB, opts ...Option) Store {
		s, err := NewFilesystem(tb.TempDir(), opts...)
		if err != nil {
			tb.Fatal(err)
		}
		return s
	},
	"memory": func(tb testing.TB, opts ...Option) Store {
		return NewMemory(opts...)
	},
}

func TestStore_Lifecycle(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories {
		name, factory := name, factory

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := project.TestContext(t)
			s := factory(t)

			if _, err := s.Status(ctx, "batch", "job"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected %v to be %v", err, ErrNotFound)
			}

			if err := s.Create(ctx, "batch"); err != nil {
				t.Fatal(err)
			}
			// Create is idempotent.
			if err := s.Create(ctx, "batch"); err != nil {
				t.Fatal(err)
			}

			if _, err := s.Status(ctx, "batch", "job"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected %v to be %v", err, ErrNotFound)
			}

			n, err := s.Put(ctx, "batch", "job", strings.NewReader("payload"))
			if err != nil {
				t.Fatal(err)
			}
			if got, exp := n, int64(7); got != exp {
				t.Errorf("expected %d to be %d", got, exp)
			}

			assertState(t, s, "batch", "job", StatePending)

			if err := s.MarkProcessing(ctx, "batch", "job"); err != nil {
				t.Fatal(err)
			}
			assertState(t, s, "batch", "job", StateProcessing)

			if err := s.Finish(ctx, "batch", "job", StateSigned, "ignored"); err != nil {
				t.Fatal(err)
			}
			st := assertState(t, s, "batch", "job", StateSigned)
			if st.Message != "" {
				t.Errorf("expected no message, got %q", st.Message)
			}

			// Terminal states are write-once.
			if err := s.Finish(ctx, "batch", "job", StateErrored, "late"); !errors.Is(err, ErrTerminal) {
				t.Errorf("expected %v to be %v", err, ErrTerminal)
			}
			if err := s.MarkProcessing(ctx, "batch", "job"); !errors.Is(err, ErrTerminal) {
				t.Errorf("expected %v to be %v", err, ErrTerminal)
			}
			assertState(t, s, "batch", "job", StateSigned)

			rc, err := s.OpenPayload(ctx, "batch", "job")
			if err != nil {
				t.Fatal(err)
			}
			b, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatal(err)
			}
			if got, exp := string(b), "payload"; got != exp {
				t.Errorf("expected %q to be %q", got, exp)
			}

			if err := s.Remove(ctx, "batch"); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Status(ctx, "batch", "job"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected %v to be %v", err, ErrNotFound)
			}
		})
	}
}

func TestStore_Errored(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories {
		name, factory := name, factory

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := project.TestContext(t)
			s := factory(t)

			if err := s.Create(ctx, "b"); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Put(ctx, "b", "j", strings.NewReader("x")); err != nil {
				t.Fatal(err)
			}

			if err := s.Finish(ctx, "b", "j", StatePending, ""); err == nil {
				t.Errorf("expected error finishing with a non-terminal state")
			}

			if err := s.Finish(ctx, "b", "j", StateErrored, "tool exploded"); err != nil {
				t.Fatal(err)
			}
			st := assertState(t, s, "b", "j", StateErrored)
			if got, exp := st.Message, "tool exploded"; got != exp {
				t.Errorf("expected %q to be %q", got, exp)
			}

			if err := s.Finish(ctx, "b", "j", StateSigned, ""); !errors.Is(err, ErrTerminal) {
				t.Errorf("expected %v to be %v", err, ErrTerminal)
			}

			// Discarding output keeps the error text pollable.
			if err := s.Discard(ctx, "b", "j"); err != nil {
				t.Fatal(err)
			}
			assertState(t, s, "b", "j", StateErrored)
			if _, err := s.OpenPayload(ctx, "b", "j"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected %v to be %v", err, ErrNotFound)
			}
		})
	}
}

func TestStore_Markers(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories {
		name, factory := name, factory

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := project.TestContext(t)
			s := factory(t)

			if err := s.MarkReady(ctx, "b"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected %v to be %v", err, ErrNotFound)
			}

			if err := s.Create(ctx, "b"); err != nil {
				t.Fatal(err)
			}

			ready, err := s.IsReady(ctx, "b")
			if err != nil {
				t.Fatal(err)
			}
			if ready {
				t.Errorf("expected not ready")
			}

			if err := s.MarkReady(ctx, "b"); err != nil {
				t.Fatal(err)
			}
			if err := s.MarkReady(ctx, "b"); !errors.Is(err, ErrAlreadyReady) {
				t.Errorf("expected %v to be %v", err, ErrAlreadyReady)
			}
			if ready, err := s.IsReady(ctx, "b"); err != nil || !ready {
				t.Errorf("expected ready, got %t (%v)", ready, err)
			}

			if signed, err := s.BatchSigned(ctx, "b"); err != nil || signed {
				t.Errorf("expected not signed, got %t (%v)", signed, err)
			}
			if err := s.MarkBatchSigned(ctx, "b"); err != nil {
				t.Fatal(err)
			}
			if signed, err := s.BatchSigned(ctx, "b"); err != nil || !signed {
				t.Errorf("expected signed, got %t (%v)", signed, err)
			}

			// Markers are not jobs.
			jobs, err := s.Jobs(ctx, "b")
			if err != nil {
				t.Fatal(err)
			}
			if len(jobs) != 0 {
				t.Errorf("expected no jobs, got %q", jobs)
			}
		})
	}
}

func TestStore_JobsAndList(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories {
		name, factory := name, factory

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := project.TestContext(t)

			now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			s := factory(t, WithClock(func() time.Time { return now }))

			if _, err := s.Jobs(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected %v to be %v", err, ErrNotFound)
			}

			for _, key := range []string{"b1", "b2"} {
				if err := s.Create(ctx, key); err != nil {
					t.Fatal(err)
				}
			}
			for _, id := range []string{"c", "a", "b"} {
				if _, err := s.Put(ctx, "b1", id, strings.NewReader(id)); err != nil {
					t.Fatal(err)
				}
			}

			jobs, err := s.Jobs(ctx, "b1")
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]string{"a", "b", "c"}, jobs); diff != "" {
				t.Errorf("mismatch (-want, +got):\n%s", diff)
			}

			entries, err := s.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			exp := []*Entry{
				{Key: "b1", CreatedAt: now},
				{Key: "b2", CreatedAt: now},
			}
			if diff := cmp.Diff(exp, entries); diff != "" {
				t.Errorf("mismatch (-want, +got):\n%s", diff)
			}

			if err := s.Reset(ctx); err != nil {
				t.Fatal(err)
			}
			entries, err = s.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("expected no entries after reset, got %d", len(entries))
			}
		})
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories {
		name, factory := name, factory

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := project.TestContext(t)
			s := factory(t)

			for _, key := range []string{"", ".", "..", "../etc", "a/b", `a\b`} {
				if err := s.Create(ctx, key); !errors.Is(err, ErrNotFound) {
					t.Errorf("%q: expected %v to be %v", key, err, ErrNotFound)
				}
			}
		})
	}
}

func TestStore_ConcurrentFinish(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories {
		name, factory := name, factory

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := project.TestContext(t)
			s := factory(t)

			if err := s.Create(ctx, "b"); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Put(ctx, "b", "j", strings.NewReader("x")); err != nil {
				t.Fatal(err)
			}

			var wg sync.WaitGroup
			var mu sync.Mutex
			var wins int
			for i := 0; i < 16; i++ {
				state := StateSigned
				if i%2 == 0 {
					state = StateErrored
				}

				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.Finish(ctx, "b", "j", state, "x"); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if wins != 1 {
				t.Errorf("expected exactly one finish to succeed, got %d", wins)
			}
		})
	}
}

func TestFilesystem_Layout(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	root := t.TempDir()

	s, err := NewFilesystem(root)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Create(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "b", "j", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkReady(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(ctx, "b", "j", StateErrored, "boom"); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "b"))
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{".created", "b.ready", "j.error", "j.workingfile"}, names); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	if got, exp := s.PayloadPath("b", "j"), filepath.Join(root, "b", "j.workingfile"); got != exp {
		t.Errorf("expected %q to be %q", got, exp)
	}
	if got, exp := s.SignaturePath("b", "j"), filepath.Join(root, "b", "j.sig"); got != exp {
		t.Errorf("expected %q to be %q", got, exp)
	}
}

func TestFilesystem_DetachedStatus(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	s, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Create(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "b", "j", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkProcessing(ctx, "b", "j"); err != nil {
		t.Fatal(err)
	}

	// Detached signers delete the payload before the job is finished.
	if err := os.Remove(s.PayloadPath("b", "j")); err != nil {
		t.Fatal(err)
	}
	assertState(t, s, "b", "j", StateProcessing)

	if err := os.WriteFile(s.SignaturePath("b", "j"), []byte("sig"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(ctx, "b", "j", StateSigned, ""); err != nil {
		t.Fatal(err)
	}
	assertState(t, s, "b", "j", StateSigned)

	rc, err := s.OpenSignature(ctx, "b", "j")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if got, exp := string(b), "sig"; got != exp {
		t.Errorf("expected %q to be %q", got, exp)
	}
}

func TestFilesystem_ListFallsBackToModTime(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	root := t.TempDir()

	s, err := NewFilesystem(root)
	if err != nil {
		t.Fatal(err)
	}

	// A directory without a creation record, e.g. left by an older server.
	dir := filepath.Join(root, "orphan")
	if err := os.Mkdir(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	if err := os.Chtimes(dir, old, old); err != nil {
		t.Fatal(err)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].CreatedAt; !got.Equal(old) {
		t.Errorf("expected %v to be %v", got, old)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for state, exp := range map[State]string{
		StatePending:    "pending",
		StateProcessing: "processing",
		StateSigned:     "signed",
		StateErrored:    "errored",
		State(42):       "State(42)",
	} {
		if got := state.String(); got != exp {
			t.Errorf("expected %q to be %q", got, exp)
		}
	}
}

func assertState(tb testing.TB, s Store, key, id string, exp State) *Status {
	tb.Helper()

	st, err := s.Status(project.TestContext(tb), key, id)
	if err != nil {
		tb.Fatal(err)
	}
	if st.State != exp {
		tb.Fatalf("expected state %s to be %s", st.State, exp)
	}
	return st
}
