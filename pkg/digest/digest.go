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

// Package digest includes common digest helpers.
package digest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HMAC returns the hex-encoded SHA-256 HMAC of in.
func HMAC(in string, key []byte) (string, error) {
	h := hmac.New(sha256.New, key)
	n, err := h.Write([]byte(in))
	if err != nil {
		return "", err
	}
	if got, want := n, len(in); got < want {
		return "", fmt.Errorf("only hashed %d of %d bytes", got, want)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
