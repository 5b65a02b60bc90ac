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
	"encoding/json"

	"github.com/tombee/agentnorm/pkg/agentdef"
)

// UnnamedWorkflow names a workflow that carries no name of its own.
const UnnamedWorkflow = "unnamed_workflow"

// Workflow is the opaque workflow definition recovered from a response.
type Workflow struct {
	Name string
	// YAML is persisted verbatim.
	YAML string
}

// AgentDefinition is one agent recovered from a response.
type AgentDefinition struct {
	Name      string
	Kind      agentdef.Kind
	RawText   string
	Canonical agentdef.Agent
}

// Result is the outcome of normalizing one response. At least one of
// Workflow, Agents or RawString is always set.
type Result struct {
	RunID    string
	Strategy Strategy
	Unwraps  int

	Workflow *Workflow
	Agents   []AgentDefinition

	// RawString is set only when regex salvage was used.
	RawString *string
}

// IsFallback reports whether the result came from regex salvage.
func (r *Result) IsFallback() bool {
	return r.RawString != nil
}

// Managers returns the manager agents in result order.
func (r *Result) Managers() []*AgentDefinition {
	return r.byKind(agentdef.KindManager)
}

// Roles returns the role agents in result order.
func (r *Result) Roles() []*AgentDefinition {
	return r.byKind(agentdef.KindRole)
}

func (r *Result) byKind(kind agentdef.Kind) []*AgentDefinition {
	var out []*AgentDefinition
	for i := range r.Agents {
		if r.Agents[i].Kind == kind {
			out = append(out, &r.Agents[i])
		}
	}
	return out
}

type resultJSON struct {
	WorkflowName *string     `json:"workflow_name,omitempty"`
	WorkflowYAML *string     `json:"workflow_yaml,omitempty"`
	Agents       []agentJSON `json:"agents,omitempty"`
	RawString    *string     `json:"raw_string,omitempty"`
}

type agentJSON struct {
	Name      string         `json:"name"`
	Kind      agentdef.Kind  `json:"kind"`
	YAML      string         `json:"yaml"`
	Canonical agentdef.Agent `json:"canonical"`
}

// MarshalJSON renders the result as
// {workflow_name?, workflow_yaml?, agents?, raw_string?}.
func (r *Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{RawString: r.RawString}
	if r.Workflow != nil {
		out.WorkflowName = &r.Workflow.Name
		out.WorkflowYAML = &r.Workflow.YAML
	}
	for _, a := range r.Agents {
		out.Agents = append(out.Agents, agentJSON{
			Name:      a.Name,
			Kind:      a.Kind,
			YAML:      a.RawText,
			Canonical: a.Canonical,
		})
	}
	return json.Marshal(out)
}
