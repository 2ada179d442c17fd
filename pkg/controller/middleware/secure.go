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

package middleware

import (
	"github.com/gorilla/mux"
	"github.com/unrolled/secure"
)

// SecureHeaders sets the default security headers of the signing API. When
// requireTLS is set, plain HTTP requests are redirected to HTTPS outside of
// dev mode.
func SecureHeaders(devMode, requireTLS bool) mux.MiddlewareFunc {
	options := secure.Options{
		ContentTypeNosniff:   true,
		FrameDeny:            true,
		HostsProxyHeaders:    []string{"X-Forwarded-Host"},
		IsDevelopment:        devMode,
		ReferrerPolicy:       "no-referrer",
		SSLProxyHeaders:      map[string]string{"X-Forwarded-Proto": "https"},
		SSLRedirect:          requireTLS,
		STSIncludeSubdomains: true,
		STSSeconds:           315360000,
	}

	return secure.New(options).Handler
}
