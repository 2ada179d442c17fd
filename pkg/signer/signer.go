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

// Package signer defines the signing executors invoked by the background
// executor for a batch of uploaded files. Implementations either sign the
// payload in place (embedded signatures) or write a standalone signature
// artifact next to it (detached signatures).
package signer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File is a single uploaded payload handed to a Signer.
type File struct {
	// ID is the job identifier of the file.
	ID string

	// Path is the absolute path of the uploaded payload.
	Path string

	// SignaturePath is where detached signers must write the signature
	// artifact. Embedded signers ignore it.
	SignaturePath string
}

// Result is the outcome of a signing invocation. A Result with Signed=false is
// an expected failure (the tool rejected the input, timed out, etc). Signers
// return a non-nil error only when the invocation itself could not be
// performed.
type Result struct {
	Signed  bool
	Message string
}

// Signer signs a set of files that live in dir.
type Signer interface {
	Sign(ctx context.Context, dir string, files []*File) (*Result, error)
}

// Type is the type of signer.
type Type string

const (
	TypeNoop         Type = "NOOP"
	TypeNoopDetached Type = "NOOP_DETACHED"
	TypeTool         Type = "TOOL"
	TypeDetachedTool Type = "DETACHED_TOOL"
	TypeDetachedKey  Type = "DETACHED_KEY"
)

// Detached reports whether signers of this type produce detached signatures.
func (t Type) Detached() bool {
	switch t {
	case TypeNoopDetached, TypeDetachedTool, TypeDetachedKey:
		return true
	default:
		return false
	}
}

// Config is the configuration for a signer.
type Config struct {
	Type Type `env:"TYPE, default=NOOP"`

	// ToolPath is the signing executable. {BaseDirectory} is replaced with the
	// directory of the running server binary.
	ToolPath string `env:"TOOL_PATH"`

	// ToolOptions is the argument template for the signing executable. It
	// supports {FilePath}, {SignatureFilePath}, {BaseDirectory} and
	// {WorkingDirectory}.
	ToolOptions string `env:"TOOL_OPTIONS"`

	// Timeout is the time allotted per file. A batch of n files gets n times
	// this value.
	Timeout time.Duration `env:"TIMEOUT, default=60s"`

	// TimestampToolPath and TimestampOptions configure the optional timestamp
	// pass run over every detached signature. {FilePath} is the signature.
	TimestampToolPath string `env:"TIMESTAMP_TOOL_PATH"`
	TimestampOptions  string `env:"TIMESTAMP_OPTIONS"`

	// KeyPath is a PEM encoded PKCS#8 private key used by DETACHED_KEY.
	KeyPath string `env:"KEY_PATH"`

	// KeyPassphrase decrypts an "ENCRYPTED PRIVATE KEY" block. Use a
	// secret:// reference in production.
	KeyPassphrase string `env:"KEY_PASSPHRASE"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("TIMEOUT must be a positive duration, got %v", c.Timeout)
	}

	switch c.Type {
	case TypeNoop, TypeNoopDetached:
	case TypeTool, TypeDetachedTool:
		if c.ToolPath == "" {
			return fmt.Errorf("TOOL_PATH is required for %s signers", c.Type)
		}
		if c.ToolOptions == "" {
			return fmt.Errorf("TOOL_OPTIONS is required for %s signers", c.Type)
		}
	case TypeDetachedKey:
		if c.KeyPath == "" {
			return fmt.Errorf("KEY_PATH is required for %s signers", c.Type)
		}
	default:
		return fmt.Errorf("unknown signer type: %v", c.Type)
	}
	return nil
}

// SignerFor returns the signer for the given configuration.
func SignerFor(ctx context.Context, c *Config) (Signer, error) {
	switch typ := c.Type; typ {
	case TypeNoop:
		return NewNoop(), nil
	case TypeNoopDetached:
		return NewNoopDetached(), nil
	case TypeTool:
		return NewTool(ctx, c)
	case TypeDetachedTool:
		return NewDetachedTool(ctx, c)
	case TypeDetachedKey:
		return NewDetachedKey(ctx, c)
	default:
		return nil, fmt.Errorf("unknown signer type: %v", typ)
	}
}

// baseDirectory is the directory of the running executable, used for the
// {BaseDirectory} placeholder.
func baseDirectory() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe) + string(filepath.Separator)
}

// expand replaces the template placeholders in s.
func expand(s string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// splitArgs splits an argument template into arguments. Double quotes group
// words and are removed; there is no escaping.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	inQuote, inArg := false, false

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			inArg = true
		case (r == ' ' || r == '\t' || r == '\n') && !inQuote:
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args
}
