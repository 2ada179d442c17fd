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

// Signs local files with a remote signing server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/townsuite/codesigning/internal/buildinfo"
	"github.com/townsuite/codesigning/pkg/config"
	"github.com/townsuite/codesigning/pkg/signclient"

	"github.com/google/exposure-notifications-server/pkg/logging"
)

func main() {
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	logger := logging.NewLoggerFromEnv().
		With("build_id", buildinfo.BuildID).
		With("build_tag", buildinfo.BuildTag)
	ctx = logging.WithLogger(ctx, logger)

	err := realMain(ctx)
	done()

	if err != nil {
		logger.Fatal(err)
	}
}

func realMain(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	cfg, err := config.NewClientConfig(ctx, os.Args[1:])
	if err != nil {
		return fmt.Errorf("failed to process config: %w", err)
	}

	client, err := signclient.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	report, err := client.Run(ctx)
	for _, f := range report.Failures {
		logger.Errorw("failed to sign", "file", f.Path, "error", f.Message)
	}
	if err != nil {
		return err
	}

	logger.Infow("signing complete",
		"files", report.Resolved,
		"signed", len(report.Signed),
		"failed", len(report.Failures))

	if cfg.IgnoreFailures {
		return nil
	}
	if err := report.ErrorOrNil(); err != nil {
		return fmt.Errorf("%d file(s) failed to sign", len(report.Failures))
	}
	return nil
}
