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

package inbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// inboxEvents tracks filesystem events seen in the inbox directory
	inboxEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentnorm_inbox_events_total",
			Help: "Total inbox file events by event type",
		},
		[]string{"event_type"},
	)

	// inboxErrors tracks failures while handling inbox files
	inboxErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentnorm_inbox_errors_total",
			Help: "Total inbox errors by error type",
		},
		[]string{"error_type"},
	)

	// inboxExcluded tracks events dropped by include/exclude patterns
	inboxExcluded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentnorm_inbox_excluded_total",
			Help: "Total inbox events dropped by pattern matching",
		},
	)
)

func recordEvent(eventType string) {
	inboxEvents.WithLabelValues(eventType).Inc()
}

func recordError(errorType string) {
	inboxErrors.WithLabelValues(errorType).Inc()
}

func recordExcluded() {
	inboxExcluded.Inc()
}
