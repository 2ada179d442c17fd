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

package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/townsuite/codesigning/pkg/api"
)

// PollStatus is the server's answer to a poll.
type PollStatus int

const (
	PollNotFound PollStatus = iota
	PollNotReady
	PollSigned
	PollFailed
)

func (s PollStatus) String() string {
	switch s {
	case PollNotFound:
		return "NOT_FOUND"
	case PollNotReady:
		return "NOT_READY"
	case PollSigned:
		return "SIGNED"
	case PollFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("PollStatus(%d)", int(s))
	}
}

// PollResult is the outcome of a poll.
type PollResult struct {
	Status PollStatus

	// Body streams the signed payload or signature. It is set only for
	// PollSigned and must be closed by the caller.
	Body io.ReadCloser

	// Detail is the server supplied failure text for PollFailed.
	Detail string
}

// SigningClient talks to one signing route of the signing server.
type SigningClient struct {
	*client
	path string
}

// NewSigningClient creates a new signing server client. Detached clients talk
// to /sign/detached and receive signatures instead of signed payloads.
func NewSigningClient(base string, detached bool, opts ...Option) (*SigningClient, error) {
	client, err := newClient(base, opts...)
	if err != nil {
		return nil, err
	}

	pth := api.PathSignBatch
	if detached {
		pth = api.PathSignDetached
	}

	return &SigningClient{
		client: client,
		path:   pth,
	}, nil
}

// Health calls the liveness endpoint.
func (c *SigningClient) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, api.PathHealthz, nil, nil)
	if err != nil {
		return err
	}

	var out api.HealthResponse
	if err := c.doJSON(req, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("server reported status %q", out.Status)
	}
	return nil
}

// Upload sends one payload and returns the job id. An empty batchID uploads a
// standalone job. Set ready on the final upload of a batch. A size of -1 means
// unknown.
func (c *SigningClient) Upload(ctx context.Context, batchID string, ready bool, body io.Reader, size int64) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.path, nil, body)
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	if batchID != "" {
		req.Header.Set(api.HeaderBatchID, batchID)
	}
	if ready {
		req.Header.Set(api.HeaderBatchReady, "true")
	}

	var id string
	if err := c.doJSON(req, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("server returned an empty job id")
	}
	return id, nil
}

// Poll asks for the result of jobID.
func (c *SigningClient) Poll(ctx context.Context, batchID, jobID string) (*PollResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.path, url.Values{api.QueryJobID: []string{jobID}}, nil)
	if err != nil {
		return nil, err
	}
	if batchID != "" {
		req.Header.Set(api.HeaderBatchID, batchID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		return &PollResult{Status: PollSigned, Body: resp.Body}, nil
	}
	defer resp.Body.Close()

	perr := c.problem(req, resp)

	var p *api.Problem
	if !errors.As(perr, &p) {
		return nil, perr
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &PollResult{Status: PollNotFound, Detail: p.Detail}, nil
	case http.StatusTooEarly:
		return &PollResult{Status: PollNotReady}, nil
	case http.StatusInternalServerError:
		return &PollResult{Status: PollFailed, Detail: p.Detail}, nil
	default:
		return nil, perr
	}
}

// StatusCode returns the HTTP status carried by err, or 0 when err did not
// come from a server response.
func StatusCode(err error) int {
	var p *api.Problem
	if errors.As(err, &p) {
		return p.Status
	}
	return 0
}
