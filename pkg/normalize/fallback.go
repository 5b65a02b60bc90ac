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
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	workflowNamePattern = regexp.MustCompile(`"workflow_name"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	workflowYAMLPattern = regexp.MustCompile(`"workflow_yaml"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	agentYAMLPattern    = regexp.MustCompile(`"yaml"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// Fallback is what regex salvage recovered from unparseable text.
type Fallback struct {
	// RawString is the original text, untouched.
	RawString string
	// WorkflowName is the first workflow_name string value found, decoded.
	WorkflowName *string
	// WorkflowYAML is the first workflow_yaml string value found, decoded.
	WorkflowYAML *string
	// Agents holds every yaml string value found, decoded, in order.
	Agents []string
}

// ExtractFallback salvages workflow and agent YAML from text that no parse
// strategy could decode. It scans each text in scan, then rawText, and uses
// the first one with any match. It never fails.
func ExtractFallback(rawText string, scan ...string) Fallback {
	fb := Fallback{RawString: rawText}

	texts := make([]string, 0, len(scan)+1)
	texts = append(texts, scan...)
	texts = append(texts, rawText)

	for _, text := range texts {
		if text == "" {
			continue
		}

		var workflow *string
		if m := workflowYAMLPattern.FindStringSubmatch(text); m != nil {
			decoded := decodeEscapes(m[1])
			workflow = &decoded
		}

		var agents []string
		for _, m := range agentYAMLPattern.FindAllStringSubmatch(text, -1) {
			agents = append(agents, decodeEscapes(m[1]))
		}

		if workflow != nil || len(agents) > 0 {
			if m := workflowNamePattern.FindStringSubmatch(text); m != nil {
				name := decodeEscapes(m[1])
				fb.WorkflowName = &name
			}
			fb.WorkflowYAML = workflow
			fb.Agents = agents
			return fb
		}
	}
	return fb
}

// decodeEscapes decodes the JSON escape sequences of a captured string
// value. Unknown or malformed escapes are kept as written.
func decodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '\\' || i+1 == len(s) {
			b.WriteByte(ch)
			continue
		}

		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case '"', '\\', '/':
			b.WriteByte(s[i])
		case 'u':
			r, width, ok := decodeUnicodeEscape(s[i-1:])
			if !ok {
				b.WriteString(`\u`)
				continue
			}
			b.WriteRune(r)
			i += width - 2
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// decodeUnicodeEscape decodes a \uXXXX escape at the start of s, joining a
// following low surrogate when present. width is the number of bytes
// consumed.
func decodeUnicodeEscape(s string) (r rune, width int, ok bool) {
	hi, ok := hex4(s)
	if !ok {
		return 0, 0, false
	}
	if !utf16.IsSurrogate(hi) {
		return hi, 6, true
	}
	if lo, ok := hex4(s[6:]); ok {
		if joined := utf16.DecodeRune(hi, lo); joined != utf8.RuneError {
			return joined, 12, true
		}
	}
	return utf8.RuneError, 6, true
}

// hex4 parses `\uXXXX` at the start of s.
func hex4(s string) (rune, bool) {
	if len(s) < 6 || s[0] != '\\' || s[1] != 'u' {
		return 0, false
	}
	n, err := strconv.ParseUint(s[2:6], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(n), true
}
