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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/exposure-notifications-server/pkg/logging"
)

var _ Signer = (*DetachedTool)(nil)

// DetachedTool produces detached signatures with an external executable such
// as "openssl cms", optionally followed by a timestamping pass. Original
// payloads are removed once every signature has been written.
type DetachedTool struct {
	path    string
	options string
	timeout time.Duration

	timestampPath    string
	timestampOptions string
}

// NewDetachedTool creates a new external detached signer.
func NewDetachedTool(_ context.Context, c *Config) (*DetachedTool, error) {
	if c.ToolPath == "" {
		return nil, fmt.Errorf("missing tool path")
	}

	base := map[string]string{"BaseDirectory": baseDirectory()}
	return &DetachedTool{
		path:             expand(c.ToolPath, base),
		options:          c.ToolOptions,
		timeout:          c.Timeout,
		timestampPath:    expand(c.TimestampToolPath, base),
		timestampOptions: c.TimestampOptions,
	}, nil
}

// Sign implements Signer.
func (s *DetachedTool) Sign(ctx context.Context, dir string, files []*File) (*Result, error) {
	logger := logging.FromContext(ctx).Named("signer.DetachedTool")

	ctx, cancel := context.WithTimeout(ctx, s.timeout*time.Duration(len(files)))
	defer cancel()

	var msg strings.Builder
	for _, f := range files {
		args := splitArgs(expand(s.options, map[string]string{
			"FilePath":          f.Path,
			"SignatureFilePath": f.SignaturePath,
			"BaseDirectory":     baseDirectory(),
			"WorkingDirectory":  dir + string(filepath.Separator),
		}))

		out, code, err := run(ctx, s.path, args, dir)
		msg.WriteString(out)
		if err != nil {
			if errors.Is(err, errTimeout) {
				msg.WriteString("detached signing tool timeout reached, cancelled signing attempt\n")
				return &Result{Message: msg.String()}, nil
			}
			return nil, err
		}
		if code != 0 {
			logger.Warnw("detached signing tool failed", "file", f.Path, "exit_code", code)
			fmt.Fprintf(&msg, "error signing %s: exit code %d\n", filepath.Base(f.Path), code)
			return &Result{Message: msg.String()}, nil
		}
		if _, err := os.Stat(f.SignaturePath); err != nil {
			fmt.Fprintf(&msg, "detached signing tool did not produce %s\n", filepath.Base(f.SignaturePath))
			return &Result{Message: msg.String()}, nil
		}
	}

	if s.timestampPath != "" && s.timestampOptions != "" {
		for _, f := range files {
			args := splitArgs(expand(s.timestampOptions, map[string]string{
				"FilePath": f.SignaturePath,
			}))

			out, code, err := run(ctx, s.timestampPath, args, dir)
			msg.WriteString(out)
			if err != nil {
				if errors.Is(err, errTimeout) {
					msg.WriteString("timestamp tool timeout reached, cancelled timestamping attempt\n")
					return &Result{Message: msg.String()}, nil
				}
				return nil, err
			}
			if code != 0 {
				fmt.Fprintf(&msg, "error timestamping %s: exit code %d\n", filepath.Base(f.SignaturePath), code)
				return &Result{Message: msg.String()}, nil
			}
		}
	}

	removePayloads(ctx, files)
	return &Result{Signed: true, Message: msg.String()}, nil
}

// removePayloads deletes the original payloads after detached signing. Failures
// are logged; the reaper removes whatever is left.
func removePayloads(ctx context.Context, files []*File) {
	logger := logging.FromContext(ctx).Named("signer.removePayloads")

	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Infow("failed to remove payload, will be reaped later", "file", f.Path, "error", err)
		}
	}
}
