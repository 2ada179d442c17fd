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

// Package clients defines the HTTP client for the signing server API.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/townsuite/codesigning/internal/project"
	"github.com/townsuite/codesigning/pkg/api"

	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/plugin/ochttp/propagation/tracecontext"
)

// Option is a customization option for the client.
type Option func(c *client) *client

// WithTimeout sets a custom timeout for each request, including reading the
// response body. The default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *client) *client {
		c.httpClient.Timeout = d
		return c
	}
}

// WithMaxBodySize sets a custom max body size for JSON and problem responses.
// Signed payload downloads are not limited. The default is 64kib.
func WithMaxBodySize(max int64) Option {
	return func(c *client) *client {
		c.maxBodySize = max
		return c
	}
}

// WithUserAgent sets a custom User-Agent header
func WithUserAgent(userAgent string) Option {
	return func(c *client) *client {
		c.userAgent = userAgent
		return c
	}
}

// WithHTTPClient replaces the underlying HTTP client, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) *client {
		c.httpClient = hc
		return c
	}
}

// client is a private client that handles the heavy lifting.
type client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	maxBodySize int64
	userAgent   string
}

// newClient creates a new client.
func newClient(base string, opts ...Option) (*client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}

	client := &client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &ochttp.Transport{
				Base:        project.DefaultHTTPTransport(),
				Propagation: &tracecontext.HTTPFormat{},
			},
		},
		baseURL:     u,
		maxBodySize: 65536, // 64 KiB
	}

	for _, opt := range opts {
		client = opt(client)
	}
	return client, nil
}

// newRequest creates a new request with the given method, path (relative to the
// baseURL), query and optional raw body.
func (c *client) newRequest(ctx context.Context, method, pth string, query url.Values, body io.Reader) (*http.Request, error) {
	pth = strings.TrimPrefix(pth, "/")
	u := c.baseURL.ResolveReference(&url.URL{Path: pth, RawQuery: query.Encode()})

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/octet-stream")
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	return req, nil
}

// doJSON executes the request and decodes a 200 response into out. Any other
// response is returned as an error wrapping an *api.Problem.
func (c *client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.problem(req, resp)
	}

	errPrefix := fmt.Sprintf("%s %s - %d", strings.ToUpper(req.Method), req.URL.String(), resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return fmt.Errorf("%s: failed to read body: %w", errPrefix, err)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("%s: response content-type is not application/json (got %s): body: %s",
			errPrefix, ct, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: failed to decode JSON response: %w: body: %s",
			errPrefix, err, body)
	}
	return nil
}

// problem reads a non-200 response into an error wrapping an *api.Problem.
// Bodies that are not problem details become the problem detail verbatim.
func (c *client) problem(req *http.Request, resp *http.Response) error {
	errPrefix := fmt.Sprintf("%s %s", strings.ToUpper(req.Method), req.URL.Path)

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return fmt.Errorf("%s: failed to read body: %w", errPrefix, err)
	}

	var p api.Problem
	if err := json.Unmarshal(body, &p); err != nil || p.Status == 0 {
		p = *api.NewProblem(resp.StatusCode, "%s", strings.TrimSpace(string(body)))
	}
	p.Status = resp.StatusCode
	return fmt.Errorf("%s: %w", errPrefix, &p)
}
