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
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// NormalizeValue deep-copies a decoded JSON or YAML value into the shapes
// the canonicalizer works with: map[string]any for every mapping, []any for
// every sequence, and int for integral floats. A mapping that contains
// itself is cut at the point of recursion and replaced with nil.
func NormalizeValue(v any) any {
	return copyValue(v, map[uintptr]struct{}{})
}

func copyValue(v any, ancestors map[uintptr]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		if out := copyMap(t, ancestors); out != nil {
			return out
		}
		return nil
	case map[any]any:
		id := reflect.ValueOf(t).Pointer()
		if _, seen := ancestors[id]; seen {
			return nil
		}
		ancestors[id] = struct{}{}
		defer delete(ancestors, id)

		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = copyValue(val, ancestors)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val, ancestors)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int(t)
		}
		return t
	case int64:
		return int(t)
	default:
		return v
	}
}

func copyMap(m map[string]any, ancestors map[uintptr]struct{}) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	id := reflect.ValueOf(m).Pointer()
	if _, seen := ancestors[id]; seen {
		return nil
	}
	ancestors[id] = struct{}{}
	defer delete(ancestors, id)

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v, ancestors)
	}
	return out
}

func normalizeMap(m map[string]any) map[string]any {
	out := copyMap(m, map[uintptr]struct{}{})
	if out == nil {
		return map[string]any{}
	}
	return out
}

// asText renders scalar values as text. Sequences are joined line by line
// and mappings are rendered as YAML.
func asText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := asText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		data, err := encodeYAML(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return strings.TrimRight(string(data), "\n")
	default:
		return fmt.Sprint(t)
	}
}

// asList keeps sequences and wraps any other present value in a
// one-element list. Absent values become an empty list.
func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, len(t))
		copy(out, t)
		return out
	default:
		return []any{t}
	}
}

func defaultFormat() map[string]any {
	return map[string]any{"type": "json"}
}

// asFormat keeps a response_format mapping, turns a bare string into
// {type: <string>}, and defaults to {type: json}.
func asFormat(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return map[string]any{"type": s}
		}
	}
	return defaultFormat()
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}
