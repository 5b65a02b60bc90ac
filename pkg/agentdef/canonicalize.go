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

package agentdef

import (
	"strings"
)

// managerMarkers are the lower-case name fragments that mark a manager.
var managerMarkers = []string{"manager", "mgr"}

// Classify returns KindManager when the name contains "manager" or "mgr"
// (case-insensitive) and KindRole otherwise.
//
// This is a naming heuristic. The upstream payload carries no other
// discriminator, so names like "Project_Mgr_Assistant" are managers.
func Classify(name string) Kind {
	lower := strings.ToLower(name)
	for _, marker := range managerMarkers {
		if strings.Contains(lower, marker) {
			return KindManager
		}
	}
	return KindRole
}

// Canonicalizer maps agent field sets onto the canonical schema.
type Canonicalizer struct {
	// Defaults fill llm_config gaps.
	Defaults LLMDefaults
}

// NewCanonicalizer returns a Canonicalizer using the given LLM defaults.
// Zero-valued default fields fall back to DefaultLLMDefaults.
func NewCanonicalizer(defaults LLMDefaults) *Canonicalizer {
	base := DefaultLLMDefaults()
	if defaults.ProviderID != "" {
		base.ProviderID = defaults.ProviderID
	}
	if defaults.Model != "" {
		base.Model = defaults.Model
	}
	if defaults.Temperature != 0 {
		base.Temperature = defaults.Temperature
	}
	if defaults.TopP != 0 {
		base.TopP = defaults.TopP
	}
	return &Canonicalizer{Defaults: base}
}

// Canonicalize maps fields onto the canonical schema using the package defaults.
func Canonicalize(fields map[string]any) Agent {
	return NewCanonicalizer(LLMDefaults{}).Canonicalize(fields)
}

// Canonicalize maps an arbitrary agent-shaped mapping onto the canonical
// schema. It is total (nil and empty mappings are valid input) and
// idempotent: values already present are kept, only gaps are filled.
func (c *Canonicalizer) Canonicalize(fields map[string]any) Agent {
	fields = normalizeMap(fields)

	name := strings.TrimSpace(asText(fields["name"]))
	if name == "" {
		name = UnnamedAgent
	}
	kind := Classify(name)

	templateType := asText(fields["template_type"])
	if templateType == "" {
		templateType = DefaultTemplateType
	}

	agent := Agent{
		TemplateType:         templateType,
		Name:                 name,
		Description:          asText(fields["description"]),
		AgentRole:            asText(fields["agent_role"]),
		AgentGoal:            asText(fields["agent_goal"]),
		AgentInstructions:    asText(fields["agent_instructions"]),
		Features:             asList(fields["features"]),
		Tools:                asList(fields["tools"]),
		ToolUsageDescription: asText(fields["tool_usage_description"]),
		ResponseFormat:       asFormat(fields["response_format"]),
		LLMConfig:            c.llmConfig(fields),
	}

	if kind == KindManager {
		if agent.ToolUsageDescription == "" {
			agent.ToolUsageDescription = ManagerToolUsage
		}
		for priority, feature := range []string{FeatureYAMLSyntaxValidation, FeatureCanonicalStructureCheck} {
			if !hasFeature(agent.Features, feature) {
				agent.Features = append(agent.Features, map[string]any{
					"type":     feature,
					"config":   map[string]any{},
					"priority": priority,
				})
			}
		}
		agent.ManagedAgents = asManagedAgents(fields["managed_agents"])
	}

	return agent
}

// llmConfig builds llm_config from a nested mapping, or from legacy flat
// keys (provider_id, model, temperature, top_p) when no mapping is supplied.
func (c *Canonicalizer) llmConfig(fields map[string]any) LLMConfig {
	cfg := LLMConfig{
		ProviderID:     c.Defaults.ProviderID,
		Model:          c.Defaults.Model,
		Temperature:    c.Defaults.Temperature,
		TopP:           c.Defaults.TopP,
		ResponseFormat: defaultFormat(),
	}

	source, nested := fields["llm_config"].(map[string]any)
	if !nested {
		source = fields
	}

	if v := asText(source["provider_id"]); v != "" {
		cfg.ProviderID = v
	}
	if v := asText(source["model"]); v != "" {
		cfg.Model = v
	}
	if v, ok := asFloat(source["temperature"]); ok {
		cfg.Temperature = v
	}
	if v, ok := asFloat(source["top_p"]); ok {
		cfg.TopP = v
	}

	if !nested {
		return cfg
	}

	if _, ok := source["response_format"]; ok {
		cfg.ResponseFormat = asFormat(source["response_format"])
	}
	for k, v := range source {
		switch k {
		case "provider_id", "model", "temperature", "top_p", "response_format":
			continue
		}
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]any)
		}
		cfg.Extra[k] = v
	}
	return cfg
}

func hasFeature(features []any, featureType string) bool {
	for _, f := range features {
		m, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if asText(m["type"]) == featureType || asText(m["name"]) == featureType {
			return true
		}
	}
	return false
}

func asManagedAgents(v any) []ManagedAgent {
	managed := []ManagedAgent{}
	list, ok := v.([]any)
	if !ok {
		return managed
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		file := asText(m["file"])
		if file == "" {
			continue
		}
		managed = append(managed, ManagedAgent{
			File:             file,
			UsageDescription: asText(m["usage_description"]),
		})
	}
	return managed
}
