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

// Package routes defines the HTTP routes of the signing server.
package routes

import (
	"compress/gzip"
	"context"
	"fmt"
	"net/http"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/townsuite/codesigning/pkg/api"
	"github.com/townsuite/codesigning/pkg/config"
	"github.com/townsuite/codesigning/pkg/controller"
	"github.com/townsuite/codesigning/pkg/controller/cleanup"
	"github.com/townsuite/codesigning/pkg/controller/middleware"
	"github.com/townsuite/codesigning/pkg/controller/signing"
	"github.com/townsuite/codesigning/pkg/ratelimit/limitware"
	"github.com/townsuite/codesigning/pkg/render"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	"github.com/sethvargo/go-limiter"
)

// SigningServer defines routes for the signing server. embedded backs
// /sign/batch and detached backs /sign/detached.
func SigningServer(
	ctx context.Context,
	cfg *config.ServerConfig,
	embedded signing.Coordinator,
	detached signing.Coordinator,
	sweeper cleanup.Sweeper,
	limiterStore limiter.Store,
) (http.Handler, error) {
	r := mux.NewRouter()

	h := render.New(ctx, cfg.DevMode)

	// Request ID injection
	populateRequestID := middleware.PopulateRequestID(h)
	r.Use(populateRequestID)

	// Logger injection
	populateLogger := middleware.PopulateLogger(logging.FromContext(ctx))
	r.Use(populateLogger)

	// Recovery injection
	recovery := middleware.Recovery(h)
	r.Use(recovery)

	// Secure headers
	r.Use(middleware.SecureHeaders(cfg.DevMode, cfg.RequireTLS))

	// Only uploads consume rate limit quota. Clients poll aggressively and a
	// throttled poll would only stretch out the batch.
	httplimiter, err := limitware.NewMiddleware(ctx, limiterStore,
		limitware.IPAddressKeyFunc("signing:ratelimit:", []byte(cfg.RateLimit.HMACKey)),
		h,
		limitware.AllowOnError(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter middleware: %w", err)
	}
	rateLimit := httplimiter.Handle

	// Signed payloads are downloaded by every poller, favor speed over ratio.
	compress, err := gziphandler.NewGzipLevelHandler(gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip middleware: %w", err)
	}

	// Health route
	r.Handle(api.PathHealthz, controller.HandleHealthz(h)).Methods(http.MethodGet)

	routes := []struct {
		path  string
		coord signing.Coordinator
	}{
		{api.PathSignBatch, embedded},
		{api.PathSignDetached, detached},
	}
	for _, route := range routes {
		c := signing.New(route.coord, cfg.MaxRequestBodySize, h)

		// POST /sign/{batch,detached}
		r.Handle(route.path, rateLimit(c.HandleUpload())).Methods(http.MethodPost)

		// GET /sign/{batch,detached}?id=<job id>
		r.Handle(route.path, compress(c.HandlePoll())).Methods(http.MethodGet)
	}

	// POST /cleanup
	cleanupController := cleanup.New(sweeper, h)
	r.Handle(api.PathCleanup, cleanupController.HandleCleanup()).Methods(http.MethodPost)

	return r, nil
}
