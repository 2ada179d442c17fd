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

package project

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"go.uber.org/zap/zaptest"
)

// TestContext returns a context with a test logger attached. The context is
// cancelled when the test finishes.
func TestContext(tb testing.TB) context.Context {
	tb.Helper()

	ctx, done := context.WithCancel(context.Background())
	tb.Cleanup(done)

	logger := zaptest.NewLogger(tb).Sugar()
	return logging.WithLogger(ctx, logger)
}

// TestTimeout controls the individual test timeout for tests that wait on
// background work. By default it's 30s, but it can be controlled with the
// TEST_TIMEOUT environment variable.
func TestTimeout() time.Duration {
	if v, _ := time.ParseDuration(os.Getenv("TEST_TIMEOUT")); v != 0 {
		return v
	}
	return 30 * time.Second
}
