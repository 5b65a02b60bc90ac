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
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlFence matches a markdown code fence wrapped around a YAML block.
var yamlFence = regexp.MustCompile("(?s)^```[A-Za-z]*[ \t]*\\r?\\n(.*?)\\r?\\n?```\\s*$")

// Resolve turns one agent block into the field mapping to canonicalize and
// the raw text it came from.
//
// A block is usually {name?, yaml: "<yaml text>"}; the YAML text is decoded
// and a block-level name fills a missing decoded name. A block without a
// yaml key is taken as the field mapping itself. A bare string is decoded as
// YAML. Undecodable text resolves to an empty mapping, never an error.
func Resolve(block any) (fields map[string]any, rawText string) {
	switch b := NormalizeValue(block).(type) {
	case map[string]any:
		switch y := b["yaml"].(type) {
		case string:
			fields = DecodeFields(y)
			rawText = y
		case map[string]any:
			fields = y
			rawText = encodeText(y)
		default:
			fields = make(map[string]any, len(b))
			for k, v := range b {
				fields[k] = v
			}
			return fields, encodeText(fields)
		}
		if asText(fields["name"]) == "" {
			if name := asText(b["name"]); name != "" {
				fields["name"] = name
			}
		}
		return fields, rawText
	case string:
		return DecodeFields(b), b
	default:
		return map[string]any{}, ""
	}
}

// DecodeFields decodes YAML (or JSON) text into a field mapping. Markdown
// fences are stripped first. Anything that does not decode to a mapping
// yields an empty mapping.
func DecodeFields(text string) map[string]any {
	text = StripFence(text)
	if strings.TrimSpace(text) == "" {
		return map[string]any{}
	}
	var v any
	if err := yaml.Unmarshal([]byte(text), &v); err != nil {
		return map[string]any{}
	}
	if m, ok := NormalizeValue(v).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// StripFence removes a surrounding ```yaml ... ``` fence, if present.
func StripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := yamlFence.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	return text
}

// FromYAML reads a persisted agent file back into its canonical form.
func FromYAML(data []byte) (Agent, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Agent{}, fmt.Errorf("decode agent yaml: %w", err)
	}
	m, ok := NormalizeValue(v).(map[string]any)
	if !ok {
		return Agent{}, fmt.Errorf("decode agent yaml: document is %T, not a mapping", v)
	}
	return Canonicalize(m), nil
}

func encodeText(v any) string {
	data, err := encodeYAML(v)
	if err != nil {
		return ""
	}
	return string(data)
}
