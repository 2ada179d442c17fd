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

package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/townsuite/codesigning/pkg/api"

	"github.com/hashicorp/go-multierror"
)

// RenderJSON renders data as JSON. The result is encoded into a pooled buffer
// first so a marshaling failure never produces a partial response.
//
// A nil data with a 2xx code renders `{"ok":true}`. A nil data with any other
// code renders `{"error":"<status text>"}`. Errors, []error and
// *multierror.Error values are rendered as `{"error":...}` or
// `{"errors":[...]}`.
func (r *Renderer) RenderJSON(w http.ResponseWriter, code int, data interface{}) {
	r.renderJSON(w, code, "application/json", data)
}

// RenderJSON500 renders the given error as JSON. Outside of debug mode the
// message is always the generic status text.
func (r *Renderer) RenderJSON500(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError

	msg := http.StatusText(code)
	if r.debug {
		msg = err.Error()
	}
	r.RenderJSON(w, code, map[string]string{"error": msg})
}

// RenderProblem renders a problem detail for the given code.
func (r *Renderer) RenderProblem(w http.ResponseWriter, code int, detail string) {
	r.renderJSON(w, code, api.ProblemContentType, api.NewProblem(code, "%s", detail))
}

// RenderProblem500 renders err as a 500 problem detail. Like RenderJSON500,
// the error text is only exposed in debug mode.
func (r *Renderer) RenderProblem500(w http.ResponseWriter, err error) {
	var detail string
	if r.debug {
		detail = err.Error()
	}
	r.RenderProblem(w, http.StatusInternalServerError, detail)
}

func (r *Renderer) renderJSON(w http.ResponseWriter, code int, contentType string, data interface{}) {
	// The signing client switches on the response code. Adding one here means
	// teaching the client about it first.
	if !r.AllowedResponseCode(code) {
		r.logger.Errorw("unregistered response code", "code", code)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		msg := escapeJSON(fmt.Sprintf("%d is not a registered response code", code))
		fmt.Fprintf(w, jsonErrTmpl, msg)
		return
	}

	if data == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)

		if code >= http.StatusOK && code < http.StatusMultipleChoices {
			fmt.Fprint(w, jsonOKResp)
			return
		}

		fmt.Fprintf(w, jsonErrTmpl, escapeJSON(http.StatusText(code)))
		return
	}

	if typ, ok := data.(*multierror.Error); ok {
		data = typ.WrappedErrors()
	}
	if typ, ok := data.([]error); ok {
		msgs := make([]string, 0, len(typ))
		for _, err := range typ {
			msgs = append(msgs, err.Error())
		}
		data = &multiError{Errors: msgs}
	}
	if _, ok := data.(*api.Problem); !ok {
		if typ, ok := data.(error); ok {
			data = &singleError{Error: typ.Error()}
		}
	}

	b := r.rendererPool.Get().(*bytes.Buffer)
	b.Reset()
	defer r.rendererPool.Put(b)

	if err := json.NewEncoder(b).Encode(data); err != nil {
		r.logger.Errorw("failed to marshal json", "error", err)

		msg := "An internal error occurred."
		if r.debug {
			msg = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, jsonErrTmpl, escapeJSON(msg))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	if _, err := b.WriteTo(w); err != nil {
		// Headers are already sent.
		r.logger.Errorw("failed to write json to response", "error", err)
	}
}

// escapeJSON does primitive JSON escaping.
func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// jsonErrTmpl is rendered with Printf, so values must be escaped by the caller.
const jsonErrTmpl = `{"error":"%s"}`

const jsonOKResp = `{"ok":true}`

type singleError struct {
	Error string `json:"error,omitempty"`
}

type multiError struct {
	Errors []string `json:"errors,omitempty"`
}
