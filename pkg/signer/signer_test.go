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
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/townsuite/codesigning/internal/project"
	"github.com/youmark/pkcs8"
)

func TestSplitArgs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		exp  []string
	}{
		{
			name: "empty",
			in:   "",
			exp:  nil,
		},
		{
			name: "simple",
			in:   "sign /fd sha256 a.exe",
			exp:  []string{"sign", "/fd", "sha256", "a.exe"},
		},
		{
			name: "quoted",
			in:   `sign /f "C:\My Certs\cert.pfx"  "a b.exe"`,
			exp:  []string{"sign", "/f", `C:\My Certs\cert.pfx`, "a b.exe"},
		},
		{
			name: "empty_quotes",
			in:   `-p ""`,
			exp:  []string{"-p", ""},
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if diff := cmp.Diff(tc.exp, splitArgs(tc.in)); diff != "" {
				t.Errorf("mismatch (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestExpand(t *testing.T) {
	t.Parallel()

	got := expand(`sign "{FilePath}" -wd {WorkingDirectory} {Unknown}`, map[string]string{
		"FilePath":         "/tmp/x/a.exe",
		"WorkingDirectory": "/tmp/x/",
	})
	if exp := `sign "/tmp/x/a.exe" -wd /tmp/x/ {Unknown}`; got != exp {
		t.Errorf("expected %q to be %q", got, exp)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  *Config
		err  string
	}{
		{
			name: "noop",
			cfg:  &Config{Type: TypeNoop, Timeout: time.Second},
		},
		{
			name: "zero_timeout",
			cfg:  &Config{Type: TypeNoop},
			err:  "TIMEOUT",
		},
		{
			name: "tool_missing_path",
			cfg:  &Config{Type: TypeTool, Timeout: time.Second, ToolOptions: "x"},
			err:  "TOOL_PATH",
		},
		{
			name: "tool_missing_options",
			cfg:  &Config{Type: TypeDetachedTool, Timeout: time.Second, ToolPath: "x"},
			err:  "TOOL_OPTIONS",
		},
		{
			name: "key_missing_path",
			cfg:  &Config{Type: TypeDetachedKey, Timeout: time.Second},
			err:  "KEY_PATH",
		},
		{
			name: "unknown",
			cfg:  &Config{Type: "BANANA", Timeout: time.Second},
			err:  "unknown signer type",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.cfg.Validate()
			if tc.err == "" {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.err) {
				t.Errorf("expected error containing %q, got %v", tc.err, err)
			}
		})
	}
}

func TestType_Detached(t *testing.T) {
	t.Parallel()

	for typ, exp := range map[Type]bool{
		TypeNoop:         false,
		TypeTool:         false,
		TypeNoopDetached: true,
		TypeDetachedTool: true,
		TypeDetachedKey:  true,
	} {
		if got := typ.Detached(); got != exp {
			t.Errorf("%s: expected %t to be %t", typ, got, exp)
		}
	}
}

// writePayload writes a payload named id into dir and returns the File for it.
func writePayload(tb testing.TB, dir, id, contents string) *File {
	tb.Helper()

	pth := filepath.Join(dir, id+".workingfile")
	if err := os.WriteFile(pth, []byte(contents), 0o600); err != nil {
		tb.Fatal(err)
	}
	return &File{
		ID:            id,
		Path:          pth,
		SignaturePath: filepath.Join(dir, id+".sig"),
	}
}

func TestNoopDetached_Sign(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	dir := t.TempDir()
	f := writePayload(t, dir, "a", "hello")

	result, err := NewNoopDetached().Sign(ctx, dir, []*File{f})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Signed {
		t.Fatalf("expected signed, got %#v", result)
	}

	b, err := os.ReadFile(f.SignaturePath)
	if err != nil {
		t.Fatal(err)
	}
	if got, exp := string(b), fmt.Sprintf("%x", sha256.Sum256([]byte("hello"))); got != exp {
		t.Errorf("expected %q to be %q", got, exp)
	}
}

func skipWithoutShell(tb testing.TB) {
	tb.Helper()

	if runtime.GOOS == "windows" {
		tb.Skip("requires /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		tb.Skip("requires /bin/sh")
	}
}

func TestTool_Sign(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	cases := []struct {
		name    string
		options string
		timeout time.Duration
		signed  bool
		message string
	}{
		{
			name:    "appends",
			options: `-c "echo signed >> {FilePath}"`,
			timeout: 10 * time.Second,
			signed:  true,
		},
		{
			name:    "exit_code",
			options: `-c "echo nope; exit 3"`,
			timeout: 10 * time.Second,
			message: "exit code 3",
		},
		{
			name:    "timeout",
			options: `-c "exec sleep 10"`,
			timeout: 100 * time.Millisecond,
			message: "timeout reached",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := project.TestContext(t)
			dir := t.TempDir()
			f := writePayload(t, dir, "a", "payload\n")

			s, err := NewTool(ctx, &Config{
				Type:        TypeTool,
				ToolPath:    "/bin/sh",
				ToolOptions: tc.options,
				Timeout:     tc.timeout,
			})
			if err != nil {
				t.Fatal(err)
			}

			result, err := s.Sign(ctx, dir, []*File{f})
			if err != nil {
				t.Fatal(err)
			}
			if got, exp := result.Signed, tc.signed; got != exp {
				t.Fatalf("expected signed=%t to be %t: %s", got, exp, result.Message)
			}
			if !strings.Contains(result.Message, tc.message) {
				t.Errorf("expected %q to contain %q", result.Message, tc.message)
			}

			if tc.signed {
				b, err := os.ReadFile(f.Path)
				if err != nil {
					t.Fatal(err)
				}
				if got, exp := string(b), "payload\nsigned\n"; got != exp {
					t.Errorf("expected %q to be %q", got, exp)
				}
			}
		})
	}
}

func TestTool_SignMissingExecutable(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	dir := t.TempDir()
	f := writePayload(t, dir, "a", "x")

	s, err := NewTool(ctx, &Config{
		ToolPath:    filepath.Join(dir, "does-not-exist"),
		ToolOptions: "{FilePath}",
		Timeout:     time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Sign(ctx, dir, []*File{f}); err == nil {
		t.Errorf("expected error")
	}
}

func TestDetachedTool_Sign(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	ctx := project.TestContext(t)
	dir := t.TempDir()
	files := []*File{
		writePayload(t, dir, "a", "one"),
		writePayload(t, dir, "b", "two"),
	}

	s, err := NewDetachedTool(ctx, &Config{
		ToolPath:          "/bin/sh",
		ToolOptions:       `-c "cp {FilePath} {SignatureFilePath}"`,
		Timeout:           10 * time.Second,
		TimestampToolPath: "/bin/sh",
		TimestampOptions:  `-c "echo ts >> {FilePath}"`,
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := s.Sign(ctx, dir, files)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Signed {
		t.Fatalf("expected signed: %s", result.Message)
	}

	for i, exp := range []string{"onets\n", "twots\n"} {
		b, err := os.ReadFile(files[i].SignaturePath)
		if err != nil {
			t.Fatal(err)
		}
		if got := string(b); got != exp {
			t.Errorf("expected %q to be %q", got, exp)
		}

		if _, err := os.Stat(files[i].Path); !os.IsNotExist(err) {
			t.Errorf("expected payload %s to be removed, got %v", files[i].Path, err)
		}
	}
}

func TestDetachedTool_SignNoSignature(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	ctx := project.TestContext(t)
	dir := t.TempDir()
	f := writePayload(t, dir, "a", "one")

	s, err := NewDetachedTool(ctx, &Config{
		ToolPath:    "/bin/sh",
		ToolOptions: `-c "true"`,
		Timeout:     10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := s.Sign(ctx, dir, []*File{f})
	if err != nil {
		t.Fatal(err)
	}
	if result.Signed {
		t.Fatalf("expected not signed")
	}

	// Payloads are kept on failure.
	if _, err := os.Stat(f.Path); err != nil {
		t.Fatal(err)
	}
}

func TestDetachedKey_ECDSA(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	dir := t.TempDir()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := NewDetachedKey(ctx, &Config{KeyPath: keyPath})
	if err != nil {
		t.Fatal(err)
	}

	f := writePayload(t, dir, "a", "hello world")
	result, err := s.Sign(ctx, dir, []*File{f})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Signed {
		t.Fatalf("expected signed: %s", result.Message)
	}

	sig, err := os.ReadFile(f.SignaturePath)
	if err != nil {
		t.Fatal(err)
	}
	dig := sha256.Sum256([]byte("hello world"))
	if !ecdsa.VerifyASN1(&priv.PublicKey, dig[:], sig) {
		t.Errorf("signature did not verify")
	}

	if _, err := os.Stat(f.Path); !os.IsNotExist(err) {
		t.Errorf("expected payload to be removed, got %v", err)
	}
}

func TestDetachedKey_ED25519(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	dir := t.TempDir()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	f := writePayload(t, dir, "a", "hello world")
	result, err := NewDetachedKeyFromSigner(priv).Sign(ctx, dir, []*File{f})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Signed {
		t.Fatalf("expected signed: %s", result.Message)
	}

	sig, err := os.ReadFile(f.SignaturePath)
	if err != nil {
		t.Fatal(err)
	}
	dig := sha256.Sum256([]byte("hello world"))
	if !ed25519.Verify(pub, dig[:], sig) {
		t.Errorf("signature did not verify")
	}
}

func TestParsePrivateKey(t *testing.T) {
	t.Parallel()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	encDER, err := pkcs8.MarshalPrivateKey(priv, []byte("hunter2"), nil)
	if err != nil {
		t.Fatal(err)
	}

	plain := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	encrypted := pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: encDER})

	cases := []struct {
		name       string
		pem        []byte
		passphrase string
		err        bool
	}{
		{name: "plain", pem: plain},
		{name: "plain_ignores_passphrase", pem: plain, passphrase: "x"},
		{name: "encrypted", pem: encrypted, passphrase: "hunter2"},
		{name: "encrypted_no_passphrase", pem: encrypted, err: true},
		{name: "encrypted_wrong_passphrase", pem: encrypted, passphrase: "nope", err: true},
		{name: "not_pem", pem: []byte("banana"), err: true},
		{name: "wrong_type", pem: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), err: true},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			key, err := ParsePrivateKey(tc.pem, []byte(tc.passphrase))
			if (err != nil) != tc.err {
				t.Fatalf("expected error=%t, got %v", tc.err, err)
			}
			if err != nil {
				return
			}

			ecKey, ok := key.(*ecdsa.PrivateKey)
			if !ok {
				t.Fatalf("expected *ecdsa.PrivateKey, got %T", key)
			}
			if !ecKey.Equal(priv) {
				t.Errorf("parsed key does not match")
			}
		})
	}
}
