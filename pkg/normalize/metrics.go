// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package normalize

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeNested  = "nested"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

var (
	// parseAttempts tracks every strategy attempt and how it ended
	parseAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentnorm_parse_attempts_total",
			Help: "Total parse strategy attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// fallbackTotal tracks runs that fell back to regex salvage
	fallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentnorm_fallback_total",
			Help: "Total normalizations that used the regex fallback",
		},
	)

	// unwrapDepth tracks how many envelope layers were removed per run
	unwrapDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentnorm_unwrap_depth",
			Help:    "Envelope layers removed per normalization",
			Buckets: prometheus.LinearBuckets(0, 1, 6),
		},
	)
)

func recordParseAttempt(strategy Strategy, outcome string) {
	parseAttempts.WithLabelValues(string(strategy), outcome).Inc()
}

func recordFallback() {
	fallbackTotal.Inc()
}

func observeUnwrapDepth(n int) {
	unwrapDepth.Observe(float64(n))
}
