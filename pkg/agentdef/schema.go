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

// Package agentdef defines the canonical agent schema and the functions that
// map loosely shaped agent definitions onto it.
//
// Every canonical record carries the full key set. Manager agents
// additionally carry managed_agents, which role agents never do.
package agentdef

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind classifies an agent as a manager or a role.
type Kind string

const (
	// KindManager delegates work to role agents.
	KindManager Kind = "manager"
	// KindRole is a subordinate agent invoked by a manager.
	KindRole Kind = "role"
)

const (
	// UnnamedAgent is used when an agent definition carries no name.
	UnnamedAgent = "unnamed_agent"

	// DefaultTemplateType is the template_type of every agent unless supplied.
	DefaultTemplateType = "single_task"

	// ManagerToolUsage is the tool_usage_description given to managers that lack one.
	ManagerToolUsage = "The manager orchestrates subordinate role agents and packages outputs."

	// FeatureYAMLSyntaxValidation and FeatureCanonicalStructureCheck are
	// governance features every manager carries.
	FeatureYAMLSyntaxValidation    = "yaml_syntax_validation"
	FeatureCanonicalStructureCheck = "canonical_structure_check"
)

// Agent is the canonical agent record. Field order is the persisted key order.
type Agent struct {
	TemplateType         string         `yaml:"template_type" json:"template_type"`
	Name                 string         `yaml:"name" json:"name"`
	Description          string         `yaml:"description" json:"description"`
	AgentRole            string         `yaml:"agent_role" json:"agent_role"`
	AgentGoal            string         `yaml:"agent_goal" json:"agent_goal"`
	AgentInstructions    string         `yaml:"agent_instructions" json:"agent_instructions"`
	Features             []any          `yaml:"features" json:"features"`
	Tools                []any          `yaml:"tools" json:"tools"`
	ToolUsageDescription string         `yaml:"tool_usage_description" json:"tool_usage_description"`
	ResponseFormat       map[string]any `yaml:"response_format" json:"response_format"`
	LLMConfig            LLMConfig      `yaml:"llm_config" json:"llm_config"`
	ManagedAgents        []ManagedAgent `yaml:"managed_agents,omitempty" json:"managed_agents,omitempty"`
}

// LLMConfig holds model settings. Keys outside the known set survive in Extra.
type LLMConfig struct {
	ProviderID     string         `yaml:"provider_id" json:"provider_id"`
	Model          string         `yaml:"model" json:"model"`
	Temperature    float64        `yaml:"temperature" json:"temperature"`
	TopP           float64        `yaml:"top_p" json:"top_p"`
	ResponseFormat map[string]any `yaml:"response_format" json:"response_format"`
	Extra          map[string]any `yaml:",inline" json:"-"`
}

// ManagedAgent points a manager at the shared canonical file of a role.
type ManagedAgent struct {
	File             string `yaml:"file" json:"file"`
	UsageDescription string `yaml:"usage_description" json:"usage_description"`
}

// LLMDefaults are the values used to fill llm_config gaps.
type LLMDefaults struct {
	ProviderID  string  `yaml:"provider_id"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
}

// DefaultLLMDefaults returns the fixed defaults: OpenAI gpt-4o-mini at
// temperature 0.7 and top_p 0.9.
func DefaultLLMDefaults() LLMDefaults {
	return LLMDefaults{
		ProviderID:  "OpenAI",
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		TopP:        0.9,
	}
}

// Kind classifies the agent by its name.
func (a Agent) Kind() Kind {
	return Classify(a.Name)
}

// managerDoc and roleDoc mirror Agent field-for-field so they convert
// directly; only the managed_agents tag differs.
type managerDoc struct {
	TemplateType         string         `yaml:"template_type" json:"template_type"`
	Name                 string         `yaml:"name" json:"name"`
	Description          string         `yaml:"description" json:"description"`
	AgentRole            string         `yaml:"agent_role" json:"agent_role"`
	AgentGoal            string         `yaml:"agent_goal" json:"agent_goal"`
	AgentInstructions    string         `yaml:"agent_instructions" json:"agent_instructions"`
	Features             []any          `yaml:"features" json:"features"`
	Tools                []any          `yaml:"tools" json:"tools"`
	ToolUsageDescription string         `yaml:"tool_usage_description" json:"tool_usage_description"`
	ResponseFormat       map[string]any `yaml:"response_format" json:"response_format"`
	LLMConfig            LLMConfig      `yaml:"llm_config" json:"llm_config"`
	ManagedAgents        []ManagedAgent `yaml:"managed_agents" json:"managed_agents"`
}

type roleDoc struct {
	TemplateType         string         `yaml:"template_type" json:"template_type"`
	Name                 string         `yaml:"name" json:"name"`
	Description          string         `yaml:"description" json:"description"`
	AgentRole            string         `yaml:"agent_role" json:"agent_role"`
	AgentGoal            string         `yaml:"agent_goal" json:"agent_goal"`
	AgentInstructions    string         `yaml:"agent_instructions" json:"agent_instructions"`
	Features             []any          `yaml:"features" json:"features"`
	Tools                []any          `yaml:"tools" json:"tools"`
	ToolUsageDescription string         `yaml:"tool_usage_description" json:"tool_usage_description"`
	ResponseFormat       map[string]any `yaml:"response_format" json:"response_format"`
	LLMConfig            LLMConfig      `yaml:"llm_config" json:"llm_config"`
	ManagedAgents        []ManagedAgent `yaml:"-" json:"-"`
}

func (a Agent) document() any {
	if a.Kind() == KindManager {
		doc := managerDoc(a)
		if doc.ManagedAgents == nil {
			doc.ManagedAgents = []ManagedAgent{}
		}
		return doc
	}
	return roleDoc(a)
}

// MarshalYAML emits managed_agents for managers (even when empty) and never
// for roles.
func (a Agent) MarshalYAML() (any, error) {
	return a.document(), nil
}

// MarshalJSON mirrors MarshalYAML.
func (a Agent) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.document())
}

// Encode renders the agent as YAML with two-space indentation.
func (a Agent) Encode() ([]byte, error) {
	return encodeYAML(a)
}

// ToMap returns the persisted form of the agent as a generic mapping, the
// same shape FromYAML would read back.
func (a Agent) ToMap() (map[string]any, error) {
	data, err := a.Encode()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode canonical agent: %w", err)
	}
	return normalizeMap(m), nil
}
