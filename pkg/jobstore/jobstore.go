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

// Package jobstore is the working store of the signing server. It holds the
// uploaded payloads of every job grouped by working directory (one per batch,
// or one per job when uploaded without a batch) and tracks each job's state.
//
// Terminal states are write-once: once a job is Signed or Errored, further
// attempts to finish it return ErrTerminal.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a working directory or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTerminal is returned when finishing a job that already reached a
	// terminal state.
	ErrTerminal = errors.New("job already finished")

	// ErrAlreadyReady is returned when marking a working directory ready twice.
	ErrAlreadyReady = errors.New("already marked ready")
)

// State is the state of a single job.
type State int

const (
	StatePending State = iota
	StateProcessing
	StateSigned
	StateErrored
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateSigned:
		return "signed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSigned || s == StateErrored
}

// Status is the state of a job plus the stored error text for errored jobs.
type Status struct {
	State   State
	Message string
}

// Entry is a working directory known to the store.
type Entry struct {
	Key       string
	CreatedAt time.Time
}

// Store is the working store.
type Store interface {
	// Create creates the working directory for key if it does not exist and
	// records its creation time.
	Create(ctx context.Context, key string) error

	// Put stores the payload of job id in the working directory for key. The
	// payload is not visible to Jobs until it is completely written.
	Put(ctx context.Context, key, id string, r io.Reader) (int64, error)

	// Jobs returns the ids of every job with a stored payload in key, sorted.
	Jobs(ctx context.Context, key string) ([]string, error)

	// Status returns the state of job id in key. It returns ErrNotFound if the
	// working directory or the job does not exist.
	Status(ctx context.Context, key, id string) (*Status, error)

	// MarkProcessing moves a pending job to StateProcessing.
	MarkProcessing(ctx context.Context, key, id string) error

	// Finish moves job id to a terminal state. Message is stored for errored
	// jobs.
	Finish(ctx context.Context, key, id string, state State, message string) error

	// MarkReady records the readiness barrier of key. It returns
	// ErrAlreadyReady if it was already recorded.
	MarkReady(ctx context.Context, key string) error

	// IsReady reports whether the readiness barrier of key was recorded.
	IsReady(ctx context.Context, key string) (bool, error)

	// MarkBatchSigned records that every member of a detached batch finished.
	MarkBatchSigned(ctx context.Context, key string) error

	// BatchSigned reports whether MarkBatchSigned was called for key.
	BatchSigned(ctx context.Context, key string) (bool, error)

	// OpenPayload opens the stored payload of job id.
	OpenPayload(ctx context.Context, key, id string) (io.ReadCloser, error)

	// OpenSignature opens the detached signature of job id.
	OpenSignature(ctx context.Context, key, id string) (io.ReadCloser, error)

	// Dir, PayloadPath and SignaturePath return the on-disk locations handed to
	// signers. Stores without a filesystem backing return empty strings.
	Dir(key string) string
	PayloadPath(key, id string) string
	SignaturePath(key, id string) string

	// Discard deletes the payload and signature of job id, keeping its state.
	Discard(ctx context.Context, key, id string) error

	// Remove deletes the working directory for key and everything in it.
	Remove(ctx context.Context, key string) error

	// List returns every working directory.
	List(ctx context.Context) ([]*Entry, error)

	// Reset deletes every working directory.
	Reset(ctx context.Context) error
}

// validKey reports whether s is usable as a path element.
func validKey(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func checkKeys(keys ...string) error {
	for _, k := range keys {
		if !validKey(k) {
			return fmt.Errorf("invalid key %q: %w", k, ErrNotFound)
		}
	}
	return nil
}
