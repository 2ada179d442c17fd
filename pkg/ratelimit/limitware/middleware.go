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

// Package limitware provides middleware for rate limiting HTTP handlers.
package limitware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/exposure-notifications-server/pkg/logging"
	"github.com/townsuite/codesigning/pkg/digest"
	"github.com/townsuite/codesigning/pkg/observability"
	"github.com/townsuite/codesigning/pkg/realip"
	"github.com/townsuite/codesigning/pkg/render"

	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/httplimit"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
)

// Middleware rate limits HTTP handlers on an arbitrary KeyFunc against any
// limiter.Store.
type Middleware struct {
	store   limiter.Store
	keyFunc httplimit.KeyFunc
	h       *render.Renderer

	allowOnError bool
}

// Option is an option to the middleware.
type Option func(m *Middleware) *Middleware

// AllowOnError lets requests through when the store cannot be reached. The
// default is to fail with an internal server error.
func AllowOnError(v bool) Option {
	return func(m *Middleware) *Middleware {
		m.allowOnError = v
		return m
	}
}

// NewMiddleware creates a new middleware suitable for use as an HTTP handler.
// This function returns an error if either the Store or KeyFunc are nil.
func NewMiddleware(ctx context.Context, s limiter.Store, f httplimit.KeyFunc, h *render.Renderer, opts ...Option) (*Middleware, error) {
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if f == nil {
		return nil, fmt.Errorf("key function cannot be nil")
	}

	m := &Middleware{
		store:   s,
		keyFunc: f,
		h:       h,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		m = opt(m)
	}

	return m, nil
}

// Handle calls Take() on the store and sets the common rate limiting headers.
// When no tokens are left the chain is halted with a 429 problem detail that
// says when it is safe to retry.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logging.FromContext(ctx).Named("limitware.Handle")

		result := observability.ResultOK()
		defer func() {
			if err := stats.RecordWithTags(ctx, []tag.Mutator{result}, mRequest.M(1)); err != nil {
				logger.Warnw("failed to record rate limit request", "error", err)
			}
		}()

		key, err := m.keyFunc(r)
		if err != nil {
			logger.Errorw("could not call key function", "error", err)
			result = observability.ResultError("FAILED_TO_CALL_KEY_FUNCTION")
			m.h.RenderProblem500(w, err)
			return
		}

		limit, remaining, reset, ok, err := m.store.Take(ctx, key)
		if err != nil {
			logger.Errorw("failed to take", "error", err)

			if !m.allowOnError {
				result = observability.ResultError("FAILED_TO_TAKE")
				m.h.RenderProblem500(w, err)
				return
			}
			ok = true
		}

		resetTime := time.Unix(0, int64(reset)).UTC().Format(time.RFC1123)

		// Headers are set whether or not the request is permitted.
		w.Header().Set(httplimit.HeaderRateLimitLimit, strconv.FormatUint(limit, 10))
		w.Header().Set(httplimit.HeaderRateLimitRemaining, strconv.FormatUint(remaining, 10))
		w.Header().Set(httplimit.HeaderRateLimitReset, resetTime)

		if !ok {
			logger.Infow("rate limited", "key", key)
			result = observability.ResultError("RATE_LIMITED")
			w.Header().Set(httplimit.HeaderRetryAfter, resetTime)
			m.h.RenderProblem(w, http.StatusTooManyRequests, fmt.Sprintf("rate limited until %s", resetTime))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// IPAddressKeyFunc uses the client IP to rate limit. The address is digested
// with hmacKey so raw IPs never reach the store.
func IPAddressKeyFunc(scope string, hmacKey []byte) httplimit.KeyFunc {
	return func(r *http.Request) (string, error) {
		ip := realip.FromRequest(r)

		dig, err := digest.HMAC(ip, hmacKey)
		if err != nil {
			return "", fmt.Errorf("failed to digest ip: %w", err)
		}
		return fmt.Sprintf("%sip:%s", scope, dig), nil
	}
}
