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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/exposure-notifications-server/pkg/logging"
)

var _ Signer = (*Tool)(nil)

// Tool signs payloads in place by invoking an external executable (signtool,
// osslsigncode, ...) once per file.
type Tool struct {
	path    string
	options string
	timeout time.Duration
}

// NewTool creates a new external tool signer.
func NewTool(_ context.Context, c *Config) (*Tool, error) {
	if c.ToolPath == "" {
		return nil, fmt.Errorf("missing tool path")
	}

	return &Tool{
		path:    expand(c.ToolPath, map[string]string{"BaseDirectory": baseDirectory()}),
		options: c.ToolOptions,
		timeout: c.Timeout,
	}, nil
}

// Sign implements Signer. The whole batch shares a deadline of the per-file
// timeout multiplied by the number of files.
func (s *Tool) Sign(ctx context.Context, dir string, files []*File) (*Result, error) {
	logger := logging.FromContext(ctx).Named("signer.Tool")

	ctx, cancel := context.WithTimeout(ctx, s.timeout*time.Duration(len(files)))
	defer cancel()

	var msg strings.Builder
	for _, f := range files {
		args := splitArgs(expand(s.options, map[string]string{
			"FilePath":         f.Path,
			"BaseDirectory":    baseDirectory(),
			"WorkingDirectory": dir + string(filepath.Separator),
		}))

		out, code, err := run(ctx, s.path, args, dir)
		if out != "" {
			msg.WriteString(out)
		}
		if err != nil {
			if errors.Is(err, errTimeout) {
				logger.Warnw("signing tool timed out", "file", f.Path)
				msg.WriteString("signing tool timeout reached, cancelled code signing attempt\n")
				return &Result{Message: msg.String()}, nil
			}
			return nil, err
		}
		if code != 0 {
			logger.Warnw("signing tool failed", "file", f.Path, "exit_code", code)
			fmt.Fprintf(&msg, "error signing %s: exit code %d\n", filepath.Base(f.Path), code)
			return &Result{Message: msg.String()}, nil
		}
		logger.Debugw("signed file", "file", f.Path)
	}

	return &Result{Signed: true, Message: msg.String()}, nil
}

var errTimeout = errors.New("process timed out")

// run executes the named program in dir and returns its combined output and
// exit code. A context deadline kills the process and returns errTimeout. Any
// other error means the process could not be started.
func run(ctx context.Context, name string, args []string, dir string) (string, int, error) {
	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() != nil {
		return out.String(), -1, errTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), exitErr.ExitCode(), nil
		}
		return out.String(), -1, fmt.Errorf("failed to run %s: %w", name, err)
	}
	return out.String(), 0, nil
}
