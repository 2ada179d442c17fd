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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var _ Store = (*Filesystem)(nil)

// File name suffixes inside a working directory.
const (
	extPayload    = ".workingfile"
	extProcessing = ".processing"
	extSigned     = ".signed"
	extError      = ".error"
	extSignature  = ".sig"
	extReady      = ".ready"

	createdFile = ".created"
)

// Filesystem is a Store backed by one directory per key under a root folder.
// State is encoded by sentinel files next to each payload.
type Filesystem struct {
	root string
	now  func() time.Time

	// mu serializes state transitions so terminal sentinels stay write-once.
	mu sync.Mutex
}

// NewFilesystem creates a store rooted at root, creating it if needed.
func NewFilesystem(root string, opts ...Option) (*Filesystem, error) {
	if root == "" {
		return nil, fmt.Errorf("missing root directory")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create working store root: %w", err)
	}

	o := newOptions(opts)
	return &Filesystem{
		root: root,
		now:  o.now,
	}, nil
}

// Root is the root folder of the store.
func (s *Filesystem) Root() string {
	return s.root
}

func (s *Filesystem) Dir(key string) string {
	return filepath.Join(s.root, key)
}

func (s *Filesystem) PayloadPath(key, id string) string {
	return filepath.Join(s.root, key, id+extPayload)
}

func (s *Filesystem) SignaturePath(key, id string) string {
	return filepath.Join(s.root, key, id+extSignature)
}

func (s *Filesystem) path(key, name string) string {
	return filepath.Join(s.root, key, name)
}

func (s *Filesystem) Create(_ context.Context, key string) error {
	if err := checkKeys(key); err != nil {
		return err
	}

	if err := os.MkdirAll(s.Dir(key), 0o700); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	f, err := os.OpenFile(s.path(key, createdFile), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to record creation time: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to record creation time: %w", err)
	}
	return nil
}

func (s *Filesystem) Put(_ context.Context, key, id string, r io.Reader) (int64, error) {
	if err := checkKeys(key, id); err != nil {
		return 0, err
	}
	if err := s.checkDir(key); err != nil {
		return 0, err
	}

	f, err := os.CreateTemp(s.Dir(key), "."+id+".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create payload: %w", err)
	}
	tmp := f.Name()

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return n, fmt.Errorf("failed to write payload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("failed to close payload: %w", err)
	}

	if err := os.Rename(tmp, s.PayloadPath(key, id)); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("failed to commit payload: %w", err)
	}
	return n, nil
}

func (s *Filesystem) Jobs(_ context.Context, key string) ([]string, error) {
	if err := checkKeys(key); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.Dir(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to list working directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, extPayload) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, extPayload))
	}
	return ids, nil
}

func (s *Filesystem) Status(_ context.Context, key, id string) (*Status, error) {
	if err := checkKeys(key, id); err != nil {
		return nil, err
	}
	if err := s.checkDir(key); err != nil {
		return nil, err
	}
	return s.status(key, id)
}

// status must be called with valid keys. Sentinels are checked before the
// payload because detached signers delete payloads before the job finishes.
func (s *Filesystem) status(key, id string) (*Status, error) {
	if ok, err := s.exists(key, id+extSigned); err != nil {
		return nil, err
	} else if ok {
		return &Status{State: StateSigned}, nil
	}

	b, err := os.ReadFile(s.path(key, id+extError))
	if err == nil {
		return &Status{State: StateErrored, Message: string(b)}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read error sentinel: %w", err)
	}

	if ok, err := s.exists(key, id+extProcessing); err != nil {
		return nil, err
	} else if ok {
		return &Status{State: StateProcessing}, nil
	}

	if ok, err := s.exists(key, id+extPayload); err != nil {
		return nil, err
	} else if ok {
		return &Status{State: StatePending}, nil
	}

	return nil, ErrNotFound
}

func (s *Filesystem) MarkProcessing(_ context.Context, key, id string) error {
	if err := checkKeys(key, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.status(key, id)
	if err != nil {
		return err
	}
	if st.State.Terminal() {
		return ErrTerminal
	}

	if err := os.WriteFile(s.path(key, id+extProcessing), nil, 0o600); err != nil {
		return fmt.Errorf("failed to mark processing: %w", err)
	}
	return nil
}

func (s *Filesystem) Finish(_ context.Context, key, id string, state State, message string) error {
	if err := checkKeys(key, id); err != nil {
		return err
	}

	var name string
	switch state {
	case StateSigned:
		name, message = id+extSigned, ""
	case StateErrored:
		name = id + extError
	default:
		return fmt.Errorf("cannot finish job in non-terminal state %s", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDir(key); err != nil {
		return err
	}
	for _, ext := range []string{extSigned, extError} {
		if ok, err := s.exists(key, id+ext); err != nil {
			return err
		} else if ok {
			return ErrTerminal
		}
	}

	f, err := os.OpenFile(s.path(key, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrTerminal
		}
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to write sentinel: %w", err)
	}
	if _, err := f.WriteString(message); err != nil {
		f.Close()
		return fmt.Errorf("failed to write sentinel: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write sentinel: %w", err)
	}

	if err := os.Remove(s.path(key, id+extProcessing)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear processing marker: %w", err)
	}
	return nil
}

func (s *Filesystem) MarkReady(_ context.Context, key string) error {
	if err := checkKeys(key); err != nil {
		return err
	}
	if err := s.checkDir(key); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path(key, key+extReady), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrAlreadyReady
		}
		return fmt.Errorf("failed to mark ready: %w", err)
	}
	return f.Close()
}

func (s *Filesystem) IsReady(_ context.Context, key string) (bool, error) {
	if err := checkKeys(key); err != nil {
		return false, err
	}
	return s.exists(key, key+extReady)
}

func (s *Filesystem) MarkBatchSigned(_ context.Context, key string) error {
	if err := checkKeys(key); err != nil {
		return err
	}
	if err := s.checkDir(key); err != nil {
		return err
	}

	if err := os.WriteFile(s.path(key, key+extSigned), nil, 0o600); err != nil {
		return fmt.Errorf("failed to mark batch signed: %w", err)
	}
	return nil
}

func (s *Filesystem) BatchSigned(_ context.Context, key string) (bool, error) {
	if err := checkKeys(key); err != nil {
		return false, err
	}
	return s.exists(key, key+extSigned)
}

func (s *Filesystem) OpenPayload(_ context.Context, key, id string) (io.ReadCloser, error) {
	if err := checkKeys(key, id); err != nil {
		return nil, err
	}
	return s.open(s.PayloadPath(key, id))
}

func (s *Filesystem) OpenSignature(_ context.Context, key, id string) (io.ReadCloser, error) {
	if err := checkKeys(key, id); err != nil {
		return nil, err
	}
	return s.open(s.SignaturePath(key, id))
}

func (s *Filesystem) open(pth string) (io.ReadCloser, error) {
	f, err := os.Open(pth)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(pth), err)
	}
	return f, nil
}

func (s *Filesystem) Discard(_ context.Context, key, id string) error {
	if err := checkKeys(key, id); err != nil {
		return err
	}

	for _, pth := range []string{s.PayloadPath(key, id), s.SignaturePath(key, id)} {
		if err := os.Remove(pth); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to discard %s: %w", filepath.Base(pth), err)
		}
	}
	return nil
}

func (s *Filesystem) Remove(_ context.Context, key string) error {
	if err := checkKeys(key); err != nil {
		return err
	}
	if err := os.RemoveAll(s.Dir(key)); err != nil {
		return fmt.Errorf("failed to remove working directory: %w", err)
	}
	return nil
}

func (s *Filesystem) List(_ context.Context) ([]*Entry, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list working store: %w", err)
	}

	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		created, err := s.createdAt(e)
		if err != nil {
			// Removed between listing and stat.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, &Entry{Key: e.Name(), CreatedAt: created})
	}
	return out, nil
}

// createdAt reads the recorded creation time of a working directory, falling
// back to its modification time.
func (s *Filesystem) createdAt(e os.DirEntry) (time.Time, error) {
	if b, err := os.ReadFile(s.path(e.Name(), createdFile)); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(b))); err == nil {
			return t, nil
		}
	}

	info, err := e.Info()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
	}
	return info.ModTime(), nil
}

func (s *Filesystem) Reset(_ context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("failed to list working store: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *Filesystem) checkDir(key string) error {
	info, err := os.Stat(s.Dir(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat working directory: %w", err)
	}
	if !info.IsDir() {
		return ErrNotFound
	}
	return nil
}

func (s *Filesystem) exists(key, name string) (bool, error) {
	_, err := os.Stat(s.path(key, name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", name, err)
}
