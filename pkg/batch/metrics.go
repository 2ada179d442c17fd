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

package batch

import (
	"github.com/townsuite/codesigning/pkg/observability"

	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

const metricPrefix = observability.MetricRoot + "/batch"

var (
	mAcceptLatencyMs = stats.Float64(metricPrefix+"/accept", "The latency of accepted uploads.", stats.UnitMilliseconds)
	mPolls           = stats.Int64(metricPrefix+"/polls", "The number of polls.", stats.UnitDimensionless)
)

// statusTagKey is the outcome of a poll, one of NOT_FOUND, NOT_READY, SIGNED
// or FAILED.
var statusTagKey = tag.MustNewKey("status")

func init() {
	observability.CollectViews([]*view.View{
		{
			Name:        metricPrefix + "/accept_count",
			Measure:     mAcceptLatencyMs,
			Description: "The count of uploads",
			TagKeys:     []tag.Key{observability.ResultTagKey, observability.ModeTagKey},
			Aggregation: view.Count(),
		},
		{
			Name:        metricPrefix + "/accept_latency",
			Measure:     mAcceptLatencyMs,
			Description: "The latency distribution of uploads",
			TagKeys:     []tag.Key{observability.ResultTagKey, observability.ModeTagKey},
			Aggregation: ochttp.DefaultLatencyDistribution,
		},
		{
			Name:        metricPrefix + "/poll_count",
			Measure:     mPolls,
			Description: "The count of polls by outcome",
			TagKeys:     []tag.Key{statusTagKey, observability.ModeTagKey},
			Aggregation: view.Count(),
		},
	}...)
}
