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

// Package observability provides tools for working with open census.
package observability

import (
	"context"
	"sync"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

const (
	MetricRoot = "codesigning"
)

var (
	// ResultTagKey contains a free format text describing the result of the
	// operation. Most of the time it's either "OK" or an error code.
	ResultTagKey = tag.MustNewKey("result")

	// ModeTagKey is the signing mode (embedded or detached).
	ModeTagKey = tag.MustNewKey("mode")
)

var (
	viewsLock sync.Mutex
	views     []*view.View
)

// ResultOK is a tag mutator for a successful result.
func ResultOK() tag.Mutator {
	return tag.Upsert(ResultTagKey, "OK")
}

// ResultError returns a tag mutator for the given error code.
func ResultError(code string) tag.Mutator {
	return tag.Upsert(ResultTagKey, code)
}

// CollectViews adds the views to the list of views to register with the
// exporter. It is intended to be called from init functions.
func CollectViews(v ...*view.View) {
	viewsLock.Lock()
	defer viewsLock.Unlock()
	views = append(views, v...)
}

// AllViews returns every view collected so far.
func AllViews() []*view.View {
	viewsLock.Lock()
	defer viewsLock.Unlock()

	out := make([]*view.View, len(views))
	copy(out, views)
	return out
}

// RegisterViews registers all collected views with opencensus.
func RegisterViews() error {
	return view.Register(AllViews()...)
}

// RecordLatency calculates the time since start and records it to the given
// measure with the supplied mutators. Mutators are passed by pointer so they
// can be set after the defer is registered.
func RecordLatency(ctx context.Context, start time.Time, m *stats.Float64Measure, mutators ...*tag.Mutator) {
	var additional []tag.Mutator
	for _, t := range mutators {
		if t != nil && *t != nil {
			additional = append(additional, *t)
		}
	}

	ms := float64(time.Since(start)) / float64(time.Millisecond)
	_ = stats.RecordWithTags(ctx, additional, m.M(ms))
}
