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

// Package ratelimit configures the token bucket store that throttles uploads.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"github.com/sethvargo/go-limiter/noopstore"
	"github.com/sethvargo/go-limiter/redisstore"
)

// RateLimitType represents a type of rate limiter.
type RateLimitType string

const (
	RateLimiterTypeNoop   RateLimitType = "NOOP"
	RateLimiterTypeMemory RateLimitType = "MEMORY"
	RateLimiterTypeRedis  RateLimitType = "REDIS"
)

// Config represents rate limiting configuration. Buckets are keyed by client
// IP and apply to upload requests only; polls are never limited.
type Config struct {
	Type     RateLimitType `env:"RATE_LIMIT_TYPE,default=NOOP"`
	Tokens   uint64        `env:"RATE_LIMIT_TOKENS,default=600"`
	Interval time.Duration `env:"RATE_LIMIT_INTERVAL,default=1m"`

	// HMACKey digests client addresses before they are used as bucket keys, so
	// a shared redis never holds raw IPs. It may be a secret:// reference.
	HMACKey string `env:"RATE_LIMIT_HMAC_KEY"`

	// Redis configuration, used when Type is REDIS.
	RedisHost        string        `env:"REDIS_HOST,default=127.0.0.1"`
	RedisPort        string        `env:"REDIS_PORT,default=6379"`
	RedisUsername    string        `env:"REDIS_USERNAME"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisMinPool     uint64        `env:"REDIS_MIN_POOL,default=16"`
	RedisMaxPool     uint64        `env:"REDIS_MAX_POOL,default=64"`
	RedisDialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT,default=5s"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case RateLimiterTypeNoop:
		return nil
	case RateLimiterTypeMemory, RateLimiterTypeRedis:
	default:
		return fmt.Errorf("unknown rate limiter type: %v", c.Type)
	}

	if c.Tokens == 0 {
		return fmt.Errorf("RATE_LIMIT_TOKENS must be greater than 0")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("RATE_LIMIT_INTERVAL must be positive, got %s", c.Interval)
	}
	return nil
}

// RateLimiterFor returns the rate limiter for the given type, or an error
// if one does not exist.
func RateLimiterFor(_ context.Context, c *Config) (limiter.Store, error) {
	switch c.Type {
	case RateLimiterTypeNoop:
		return noopstore.New()
	case RateLimiterTypeMemory:
		return memorystore.New(&memorystore.Config{
			Tokens:   c.Tokens,
			Interval: c.Interval,
		})
	case RateLimiterTypeRedis:
		addr := net.JoinHostPort(c.RedisHost, c.RedisPort)
		dialer := &net.Dialer{Timeout: c.RedisDialTimeout}
		return redisstore.New(&redisstore.Config{
			Tokens:          c.Tokens,
			Interval:        c.Interval,
			InitialPoolSize: c.RedisMinPool,
			MaxPoolSize:     c.RedisMaxPool,
			DialFunc: func() (net.Conn, error) {
				return dialer.Dial("tcp", addr)
			},
			AuthUsername: c.RedisUsername,
			AuthPassword: c.RedisPassword,
		})
	}

	return nil, fmt.Errorf("unknown rate limiter type: %v", c.Type)
}
