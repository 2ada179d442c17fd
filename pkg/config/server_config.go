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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/townsuite/codesigning/pkg/ratelimit"
	"github.com/townsuite/codesigning/pkg/signer"

	"github.com/sethvargo/go-envconfig"
)

// ServerConfig represents the environment based config for the signing server.
type ServerConfig struct {
	RateLimit ratelimit.Config

	// Signer signs uploads to /sign/batch in place.
	Signer signer.Config `env:",prefix=SIGNER_"`

	// DetachedSigner produces signatures for uploads to /sign/detached.
	DetachedSigner signer.Config `env:",prefix=DETACHED_SIGNER_"`

	// DevMode produces additional debugging information. Do not enable in
	// production environments.
	DevMode bool `env:"DEV_MODE"`

	// RequireTLS redirects plain HTTP requests to HTTPS. Requests forwarded by
	// a TLS terminating proxy are recognized by X-Forwarded-Proto.
	RequireTLS bool `env:"REQUIRE_TLS"`

	// Port is the port on which to bind.
	Port string `env:"PORT,default=8080"`

	// WorkingDir is the root of the working store. It defaults to a
	// "codesigning" folder in the system temporary directory.
	WorkingDir string `env:"WORKING_DIR"`

	// ResetWorkingDirOnStart removes every working directory at startup. Jobs do
	// not survive restarts, so anything left over is garbage.
	ResetWorkingDirOnStart bool `env:"RESET_WORKING_DIR_ON_START, default=true"`

	// MaxRequestBodySize caps the size of a single upload, in bytes.
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE, default=1073741824"`

	// ProcessPerCPULimit is multiplied by the number of CPUs to size the
	// admission gate around the signing tool.
	ProcessPerCPULimit int `env:"SEMAPHORE_PROCESS_PER_CPU_LIMIT, default=1"`

	// Workers and QueueSize size the background executor.
	Workers   int `env:"EXECUTOR_WORKERS, default=4"`
	QueueSize int `env:"EXECUTOR_QUEUE_SIZE, default=256"`

	// Reaper configuration. Working directories older than ReaperMaxAge are
	// deleted every ReaperInterval.
	ReaperInterval time.Duration `env:"REAPER_INTERVAL, default=10m"`
	ReaperMaxAge   time.Duration `env:"REAPER_MAX_AGE, default=1h"`
}

// NewServerConfig initializes and validates a ServerConfig struct.
func NewServerConfig(ctx context.Context) (*ServerConfig, error) {
	var config ServerConfig
	if err := ProcessWith(ctx, &config, envconfig.OsLookuper()); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate validates the configuration and fills computed defaults.
func (c *ServerConfig) Validate() error {
	if c.WorkingDir == "" {
		c.WorkingDir = filepath.Join(os.TempDir(), "codesigning")
	}

	if c.ProcessPerCPULimit <= 0 {
		return fmt.Errorf("SEMAPHORE_PROCESS_PER_CPU_LIMIT must be greater than 0, got %d", c.ProcessPerCPULimit)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("EXECUTOR_WORKERS must be greater than 0, got %d", c.Workers)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("EXECUTOR_QUEUE_SIZE must be greater than 0, got %d", c.QueueSize)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be greater than 0, got %d", c.MaxRequestBodySize)
	}

	fields := []struct {
		Var  time.Duration
		Name string
	}{
		{c.ReaperInterval, "REAPER_INTERVAL"},
		{c.ReaperMaxAge, "REAPER_MAX_AGE"},
	}
	for _, f := range fields {
		if err := checkPositiveDuration(f.Var, f.Name); err != nil {
			return err
		}
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit configuration: %w", err)
	}

	if err := c.Signer.Validate(); err != nil {
		return fmt.Errorf("invalid SIGNER_ configuration: %w", err)
	}
	if c.Signer.Type.Detached() {
		return fmt.Errorf("SIGNER_TYPE must produce embedded signatures, got %s", c.Signer.Type)
	}

	// NOOP is the shared default of both signers. The detached route needs the
	// variant that actually writes a signature file.
	if c.DetachedSigner.Type == signer.TypeNoop {
		c.DetachedSigner.Type = signer.TypeNoopDetached
	}
	if err := c.DetachedSigner.Validate(); err != nil {
		return fmt.Errorf("invalid DETACHED_SIGNER_ configuration: %w", err)
	}
	if !c.DetachedSigner.Type.Detached() {
		return fmt.Errorf("DETACHED_SIGNER_TYPE must produce detached signatures, got %s", c.DetachedSigner.Type)
	}

	return nil
}
