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

package executor

import (
	"github.com/townsuite/codesigning/pkg/observability"

	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

const metricPrefix = observability.MetricRoot + "/executor"

var (
	mSignLatencyMs = stats.Float64(metricPrefix+"/sign", "The latency of signer invocations.", stats.UnitMilliseconds)
	mEnqueued      = stats.Int64(metricPrefix+"/enqueued", "The number of queued work items.", stats.UnitDimensionless)
)

func init() {
	observability.CollectViews([]*view.View{
		{
			Name:        metricPrefix + "/sign_count",
			Measure:     mSignLatencyMs,
			Description: "The count of signer invocations",
			TagKeys:     []tag.Key{observability.ResultTagKey, observability.ModeTagKey},
			Aggregation: view.Count(),
		},
		{
			Name:        metricPrefix + "/sign_latency",
			Measure:     mSignLatencyMs,
			Description: "The latency distribution of signer invocations",
			TagKeys:     []tag.Key{observability.ResultTagKey, observability.ModeTagKey},
			Aggregation: ochttp.DefaultLatencyDistribution,
		},
		{
			Name:        metricPrefix + "/enqueued_count",
			Measure:     mEnqueued,
			Description: "The count of queued work items",
			Aggregation: view.Count(),
		},
	}...)
}
