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

package jobstore

import "time"

type options struct {
	now func() time.Time
}

// Option is an option to a store.
type Option func(o *options) *options

// WithClock sets the function used to stamp working directory creation times.
func WithClock(fn func() time.Time) Option {
	return func(o *options) *options {
		o.now = fn
		return o
	}
}

func newOptions(opts []Option) *options {
	o := &options{now: time.Now}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		o = opt(o)
	}
	return o
}
