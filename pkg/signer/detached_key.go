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
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

var _ Signer = (*DetachedKey)(nil)

// DetachedKey produces detached signatures in-process with a PEM encoded
// PKCS#8 private key. The signature covers the SHA-256 digest of the payload.
// For ed25519 keys the digest itself is the signed message.
type DetachedKey struct {
	key crypto.Signer
}

// NewDetachedKey loads the private key at c.KeyPath.
func NewDetachedKey(_ context.Context, c *Config) (*DetachedKey, error) {
	b, err := os.ReadFile(c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	key, err := ParsePrivateKey(b, []byte(c.KeyPassphrase))
	if err != nil {
		return nil, err
	}
	return &DetachedKey{key: key}, nil
}

// NewDetachedKeyFromSigner wraps an existing crypto.Signer.
func NewDetachedKeyFromSigner(key crypto.Signer) *DetachedKey {
	return &DetachedKey{key: key}
}

// ParsePrivateKey parses the first PEM block of b as a PKCS#8 private key.
// Blocks of type "ENCRYPTED PRIVATE KEY" require a passphrase.
func ParsePrivateKey(b, passphrase []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "PRIVATE KEY":
		passphrase = nil
	case "ENCRYPTED PRIVATE KEY":
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("key is encrypted but no passphrase was provided")
		}
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}

	key, _, err := pkcs8.ParsePrivateKey(block.Bytes, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key of type %T cannot sign", key)
	}
	return signer, nil
}

// Sign implements Signer.
func (s *DetachedKey) Sign(ctx context.Context, _ string, files []*File) (*Result, error) {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return &Result{Message: fmt.Sprintf("detached signing cancelled: %s", err)}, nil
		}

		dig, err := fileDigest(f.Path)
		if err != nil {
			return nil, err
		}

		var opts crypto.SignerOpts = crypto.SHA256
		if _, ok := s.key.(ed25519.PrivateKey); ok {
			opts = crypto.Hash(0)
		}

		sig, err := s.key.Sign(rand.Reader, dig, opts)
		if err != nil {
			return &Result{Message: fmt.Sprintf("failed to sign %s: %s", f.ID, err)}, nil
		}

		if err := os.WriteFile(f.SignaturePath, sig, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write signature: %w", err)
		}
	}

	removePayloads(ctx, files)
	return &Result{Signed: true}, nil
}
