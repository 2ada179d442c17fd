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
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// DefaultSignableExtensions are the file types resolved from folder scans for
// embedded signing when no explicit list is given.
var DefaultSignableExtensions = []string{".exe", ".dll", ".msi", ".msix"}

// ClientConfig represents the configuration for the signing client. Values are
// read from the environment first and may be overridden by flags.
type ClientConfig struct {
	// URL is the base URL of the signing server.
	URL string `env:"CODESIGN_URL, default=http://localhost:8080"`

	// Detached requests detached signatures. Each file gets a ".sig" artifact
	// next to it instead of being replaced.
	Detached bool `env:"CODESIGN_DETACHED"`

	UploadConcurrency int           `env:"CODESIGN_UPLOAD_CONCURRENCY, default=4"`
	RequestTimeout    time.Duration `env:"CODESIGN_REQUEST_TIMEOUT, default=30s"`
	BatchTimeout      time.Duration `env:"CODESIGN_BATCH_TIMEOUT, default=30m"`
	PollInterval      time.Duration `env:"CODESIGN_POLL_INTERVAL, default=1s"`
	Retries           uint64        `env:"CODESIGN_RETRIES, default=3"`

	// QuickFail aborts the whole run on the first failure, unless
	// IgnoreFailures is also set.
	QuickFail bool `env:"CODESIGN_QUICK_FAIL"`

	// IgnoreFailures records failures without failing the run.
	IgnoreFailures bool `env:"CODESIGN_IGNORE_FAILURES"`

	// Folder is the base for relative file specs and the root of folder scans.
	Folder string `env:"CODESIGN_FOLDER"`

	// Recursive scans Folder recursively when no file specs are given.
	Recursive bool `env:"CODESIGN_RECURSIVE"`

	// ExcludeDirs are folder names skipped by folder scans.
	ExcludeDirs []string `env:"CODESIGN_EXCLUDE_DIRS"`

	// Extensions limits folder scans and globs to the given file extensions.
	// Embedded signing defaults to DefaultSignableExtensions.
	Extensions []string `env:"CODESIGN_EXTENSIONS"`

	// Files are the file specs to sign: literal paths or glob patterns.
	Files []string `env:"CODESIGN_FILES"`
}

// NewClientConfig processes the environment and then overlays the given
// command line arguments. Positional arguments are appended to Files.
func NewClientConfig(ctx context.Context, args []string) (*ClientConfig, error) {
	return newClientConfig(ctx, envconfig.OsLookuper(), args)
}

func newClientConfig(ctx context.Context, l envconfig.Lookuper, args []string) (*ClientConfig, error) {
	var config ClientConfig
	if err := envconfig.ProcessWith(ctx, &config, l); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("codesign", flag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	config.Files = append(config.Files, fs.Args()...)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// RegisterFlags binds the configuration to fs, using the current values as the
// flag defaults.
func (c *ClientConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.URL, "url", c.URL, "base URL of the signing server")
	fs.BoolVar(&c.Detached, "detached", c.Detached, "request detached signatures")
	fs.IntVar(&c.UploadConcurrency, "upload-concurrency", c.UploadConcurrency, "maximum number of parallel uploads")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "timeout of a single HTTP request")
	fs.DurationVar(&c.BatchTimeout, "batch-timeout", c.BatchTimeout, "total time to wait for a batch to be signed")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "time between polling passes")
	fs.Uint64Var(&c.Retries, "retries", c.Retries, "retries for transport failures")
	fs.BoolVar(&c.QuickFail, "quick-fail", c.QuickFail, "abort on the first failure")
	fs.BoolVar(&c.IgnoreFailures, "ignore-failures", c.IgnoreFailures, "exit successfully even when files fail to sign")
	fs.StringVar(&c.Folder, "folder", c.Folder, "base folder for relative paths and folder scans")
	fs.BoolVar(&c.Recursive, "recursive", c.Recursive, "scan the folder recursively")
	fs.Var((*stringList)(&c.ExcludeDirs), "exclude-dirs", "comma separated folder names to skip during scans")
	fs.Var((*stringList)(&c.Extensions), "extensions", "comma separated file extensions to sign")
}

// Validate validates the configuration and fills computed defaults.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", c.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https, got %q", c.URL)
	}

	if c.UploadConcurrency <= 0 {
		return fmt.Errorf("upload concurrency must be greater than 0, got %d", c.UploadConcurrency)
	}

	fields := []struct {
		Var  time.Duration
		Name string
	}{
		{c.RequestTimeout, "request timeout"},
		{c.BatchTimeout, "batch timeout"},
		{c.PollInterval, "poll interval"},
	}
	for _, f := range fields {
		if err := checkPositiveDuration(f.Var, f.Name); err != nil {
			return err
		}
	}

	if len(c.Extensions) == 0 && !c.Detached {
		c.Extensions = append([]string(nil), DefaultSignableExtensions...)
	}
	for i, ext := range c.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Extensions[i] = ext
	}

	if len(c.Files) == 0 && c.Folder == "" {
		return fmt.Errorf("no files to sign: pass file paths or a folder")
	}
	return nil
}

// stringList is a comma separated flag value.
type stringList []string

func (s *stringList) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = nil
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*s = append(*s, p)
		}
	}
	return nil
}
