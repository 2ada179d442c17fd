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

package reaper

import (
	"github.com/townsuite/codesigning/pkg/observability"

	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

const metricPrefix = observability.MetricRoot + "/reaper"

var (
	mSweepLatencyMs = stats.Float64(metricPrefix+"/sweep", "The latency of sweeps.", stats.UnitMilliseconds)
	mRemoved        = stats.Int64(metricPrefix+"/removed", "The number of removed working directories.", stats.UnitDimensionless)
)

func init() {
	observability.CollectViews([]*view.View{
		{
			Name:        metricPrefix + "/sweep_count",
			Measure:     mSweepLatencyMs,
			Description: "The count of sweeps",
			TagKeys:     []tag.Key{observability.ResultTagKey},
			Aggregation: view.Count(),
		},
		{
			Name:        metricPrefix + "/sweep_latency",
			Measure:     mSweepLatencyMs,
			Description: "The latency distribution of sweeps",
			TagKeys:     []tag.Key{observability.ResultTagKey},
			Aggregation: ochttp.DefaultLatencyDistribution,
		},
		{
			Name:        metricPrefix + "/removed_count",
			Measure:     mRemoved,
			Description: "The total of removed working directories",
			Aggregation: view.Sum(),
		},
	}...)
}
