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

package signer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

var (
	_ Signer = (*Noop)(nil)
	_ Signer = (*NoopDetached)(nil)
)

// Noop is a pass-through signer. Payloads are left untouched.
type Noop struct{}

// NewNoop creates a new pass-through signer.
func NewNoop() *Noop {
	return &Noop{}
}

// Sign implements Signer.
func (s *Noop) Sign(ctx context.Context, _ string, _ []*File) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return &Result{Message: err.Error()}, nil
	}
	return &Result{Signed: true}, nil
}

// NoopDetached writes the hex SHA-256 digest of each payload as its
// "signature". It is intended for development and tests.
type NoopDetached struct{}

// NewNoopDetached creates a new digest-writing detached signer.
func NewNoopDetached() *NoopDetached {
	return &NoopDetached{}
}

// Sign implements Signer.
func (s *NoopDetached) Sign(ctx context.Context, _ string, files []*File) (*Result, error) {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return &Result{Message: err.Error()}, nil
		}

		dig, err := fileDigest(f.Path)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(f.SignaturePath, []byte(fmt.Sprintf("%x", dig)), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write signature: %w", err)
		}
	}
	return &Result{Signed: true}, nil
}

func fileDigest(pth string) ([]byte, error) {
	f, err := os.Open(pth)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("failed to hash payload: %w", err)
	}
	return h.Sum(nil), nil
}
