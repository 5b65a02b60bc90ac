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

package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/agentnorm/pkg/agentdef"
)

// agentsWritten tracks canonical agent files written by kind
var agentsWritten = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentnorm_agents_written_total",
		Help: "Total canonical agent files written by agent kind",
	},
	[]string{"kind"},
)

func recordAgentWritten(kind agentdef.Kind) {
	agentsWritten.WithLabelValues(string(kind)).Inc()
}
