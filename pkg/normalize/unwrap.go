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

// Kind tags the variant held by a Value.
type Kind int

const (
	// KindNull means nothing usable was found.
	KindNull Kind = iota
	// KindMapping holds a decoded mapping.
	KindMapping
	// KindText holds a wrapper string that could not be decoded.
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindMapping:
		return "mapping"
	case KindText:
		return "text"
	default:
		return "null"
	}
}

// Value is the result of unwrapping. Only a KindMapping value is ever
// canonicalized; KindText and KindNull both mean the payload is absent.
type Value struct {
	Kind    Kind
	Mapping map[string]any
	Text    string
}

// WrapperKeys are the envelope keys an upstream response may nest its
// payload under, in the order they are checked.
var WrapperKeys = []string{"response", "input", "output", "yaml_schema", "workflow_definition"}

// Unwrap descends through wrapper keys until it reaches the payload, using
// the default parse cascade for wrapped strings. It returns the innermost
// value and the number of layers removed, which never exceeds maxUnwraps.
func Unwrap(v map[string]any, maxUnwraps int) (Value, int) {
	return unwrap(v, maxUnwraps, newCascade(maxUnwraps, nil))
}

func unwrap(v map[string]any, maxUnwraps int, c *cascade) (Value, int) {
	if v == nil {
		return Value{Kind: KindNull}, 0
	}
	if maxUnwraps <= 0 {
		maxUnwraps = DefaultMaxUnwraps
	}

	current := v
	for n := 0; n < maxUnwraps; n++ {
		if isPayload(current) {
			return Value{Kind: KindMapping, Mapping: current}, n
		}

		next, text, found := descend(current, c)
		switch {
		case !found:
			return Value{Kind: KindMapping, Mapping: current}, n
		case next == nil:
			return Value{Kind: KindText, Text: text}, n + 1
		default:
			current = next
		}
	}
	return Value{Kind: KindMapping, Mapping: current}, maxUnwraps
}

// descend follows the first wrapper key holding a string or a mapping.
// A string that does not decode is returned as text with a nil mapping.
func descend(m map[string]any, c *cascade) (next map[string]any, text string, found bool) {
	for _, key := range WrapperKeys {
		switch inner := m[key].(type) {
		case map[string]any:
			return inner, "", true
		case string:
			parsed, _ := c.parse(inner)
			if parsed == nil {
				return nil, inner, true
			}
			return parsed, "", true
		}
	}
	return nil, "", false
}

// isPayload reports whether m already carries the workflow or agents.
func isPayload(m map[string]any) bool {
	_, hasWorkflow := m["workflow_yaml"]
	_, hasAgents := m["agents"]
	return hasWorkflow || hasAgents
}
