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
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

// Memory is an in-memory Store. It has no filesystem backing, so it only works
// with signers that do not touch files.
type Memory struct {
	now func() time.Time

	mu   sync.Mutex
	dirs map[string]*memoryDir
}

type memoryDir struct {
	created     time.Time
	payloads    map[string][]byte
	signatures  map[string][]byte
	states      map[string]*Status
	ready       bool
	batchSigned bool
}

// NewMemory creates a new in-memory store.
func NewMemory(opts ...Option) *Memory {
	o := newOptions(opts)
	return &Memory{
		now:  o.now,
		dirs: make(map[string]*memoryDir),
	}
}

func (s *Memory) Dir(string) string                   { return "" }
func (s *Memory) PayloadPath(string, string) string   { return "" }
func (s *Memory) SignaturePath(string, string) string { return "" }

func (s *Memory) Create(_ context.Context, key string) error {
	if err := checkKeys(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dirs[key]; ok {
		return nil
	}
	s.dirs[key] = &memoryDir{
		created:    s.now(),
		payloads:   make(map[string][]byte),
		signatures: make(map[string][]byte),
		states:     make(map[string]*Status),
	}
	return nil
}

func (s *Memory) Put(_ context.Context, key, id string, r io.Reader) (int64, error) {
	if err := checkKeys(key, id); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return n, fmt.Errorf("failed to write payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[key]
	if !ok {
		return 0, ErrNotFound
	}
	d.payloads[id] = buf.Bytes()
	return n, nil
}

func (s *Memory) Jobs(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[key]
	if !ok {
		return nil, ErrNotFound
	}

	ids := make([]string, 0, len(d.payloads))
	for id := range d.payloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Memory) Status(_ context.Context, key, id string) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status(key, id)
}

func (s *Memory) status(key, id string) (*Status, error) {
	d, ok := s.dirs[key]
	if !ok {
		return nil, ErrNotFound
	}
	if st, ok := d.states[id]; ok {
		cp := *st
		return &cp, nil
	}
	if _, ok := d.payloads[id]; ok {
		return &Status{State: StatePending}, nil
	}
	return nil, ErrNotFound
}

func (s *Memory) MarkProcessing(_ context.Context, key, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.status(key, id)
	if err != nil {
		return err
	}
	if st.State.Terminal() {
		return ErrTerminal
	}
	s.dirs[key].states[id] = &Status{State: StateProcessing}
	return nil
}

func (s *Memory) Finish(_ context.Context, key, id string, state State, message string) error {
	if !state.Terminal() {
		return fmt.Errorf("cannot finish job in non-terminal state %s", state)
	}
	if state == StateSigned {
		message = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[key]
	if !ok {
		return ErrNotFound
	}
	if st, ok := d.states[id]; ok && st.State.Terminal() {
		return ErrTerminal
	}
	d.states[id] = &Status{State: state, Message: message}
	return nil
}

func (s *Memory) MarkReady(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[key]
	if !ok {
		return ErrNotFound
	}
	if d.ready {
		return ErrAlreadyReady
	}
	d.ready = true
	return nil
}

func (s *Memory) IsReady(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[key]
	return ok && d.ready, nil
}

func (s *Memory) MarkBatchSigned(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[key]
	if !ok {
		return ErrNotFound
	}
	d.batchSigned = true
	return nil
}

func (s *Memory) BatchSigned(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[key]
	return ok && d.batchSigned, nil
}

func (s *Memory) OpenPayload(_ context.Context, key, id string) (io.ReadCloser, error) {
	return s.open(key, id, func(d *memoryDir) map[string][]byte { return d.payloads })
}

func (s *Memory) OpenSignature(_ context.Context, key, id string) (io.ReadCloser, error) {
	return s.open(key, id, func(d *memoryDir) map[string][]byte { return d.signatures })
}

// PutSignature stores a detached signature for job id. It stands in for the
// file a detached signer writes in the filesystem store.
func (s *Memory) PutSignature(key, id string, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[key]
	if !ok {
		return ErrNotFound
	}
	d.signatures[id] = append([]byte(nil), b...)
	return nil
}

func (s *Memory) open(key, id string, fn func(d *memoryDir) map[string][]byte) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dirs[key]
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := fn(d)[id]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *Memory) Discard(_ context.Context, key, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.dirs[key]; ok {
		delete(d.payloads, id)
		delete(d.signatures, id)
	}
	return nil
}

func (s *Memory) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.dirs, key)
	return nil
}

func (s *Memory) List(_ context.Context) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Entry, 0, len(s.dirs))
	for k, d := range s.dirs {
		out = append(out, &Entry{Key: k, CreatedAt: d.created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Memory) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirs = make(map[string]*memoryDir)
	return nil
}
