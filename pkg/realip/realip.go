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

// Package realip extracts the client address of a request that may have
// passed through a load balancer.
package realip

import (
	"net"
	"net/http"
	"strings"
)

const headerKeyXForwardedFor = "X-Forwarded-For"

// FromRequest returns the best guess at the client IP, without a port. The
// second to last X-Forwarded-For entry is trusted only when the header holds at
// least two values, the pattern a fronting load balancer produces. It returns
// the empty string if no address was found.
func FromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}

	ip := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	if xff := r.Header.Get(headerKeyXForwardedFor); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 1 {
			ip = parts[len(parts)-2]
		}
	}

	return strings.TrimSpace(ip)
}
