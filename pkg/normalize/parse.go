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
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tombee/agentnorm/internal/log"
	"github.com/tombee/agentnorm/pkg/agentdef"
)

// Strategy names the parse strategy that produced an envelope.
type Strategy string

const (
	// StrategyDirect is a strict JSON decode of the text as given.
	StrategyDirect Strategy = "direct"
	// StrategyEscapeFix strips carriage returns and escapes raw control
	// characters inside string literals before a strict decode.
	StrategyEscapeFix Strategy = "escape_fix"
	// StrategyLiteral decodes a brace-delimited Python-style literal
	// (single quotes, backslash escapes, True/False/None, tuples, bare keys).
	StrategyLiteral Strategy = "literal"
	// StrategyStructured marks input that arrived already decoded.
	StrategyStructured Strategy = "structured"
	// StrategyNone means no strategy produced a mapping.
	StrategyNone Strategy = "none"
)

// DefaultMaxUnwraps bounds both envelope unwrapping and re-decoding of
// double-encoded JSON strings.
const DefaultMaxUnwraps = 5

// jsonFence matches a markdown code fence wrapped around the whole payload.
var jsonFence = regexp.MustCompile("(?s)^```(?:json|JSON)?[ \t]*\\r?\\n(.*?)\\r?\\n?```$")

// cascade runs the parse strategies in order.
type cascade struct {
	maxDecodes int
	logger     *slog.Logger
}

func newCascade(maxDecodes int, logger *slog.Logger) *cascade {
	if maxDecodes <= 0 {
		maxDecodes = DefaultMaxUnwraps
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &cascade{maxDecodes: maxDecodes, logger: logger}
}

// Parse converts raw response text into a mapping using the default bound.
// It never fails: when no strategy yields a mapping it returns nil and
// StrategyNone.
func Parse(text string) (map[string]any, Strategy) {
	return newCascade(DefaultMaxUnwraps, nil).parse(text)
}

// parse tries each strategy in order. A strict decode that yields a JSON
// string is decoded again, up to maxDecodes times.
func (c *cascade) parse(text string) (map[string]any, Strategy) {
	for decodes := 0; decodes <= c.maxDecodes; decodes++ {
		m, inner, strategy := c.attempt(text)
		if m != nil {
			return m, strategy
		}
		if inner == nil {
			break
		}
		text = *inner
	}
	return nil, StrategyNone
}

// attempt returns either a mapping, or the inner text of a double-encoded
// payload, or neither.
func (c *cascade) attempt(text string) (map[string]any, *string, Strategy) {
	if m := jsonFence.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		text = m[1]
	}

	v, err := decodeStrict(text)
	if m, inner, ok := c.accept(StrategyDirect, v, err); ok {
		return m, inner, StrategyDirect
	}

	v, err = decodeStrict(escapeControlInStrings(text))
	if m, inner, ok := c.accept(StrategyEscapeFix, v, err); ok {
		return m, inner, StrategyEscapeFix
	}

	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		v, err = decodeLiteral(text)
		if m, _, ok := c.accept(StrategyLiteral, v, err); ok && m != nil {
			return m, nil, StrategyLiteral
		}
	} else {
		recordParseAttempt(StrategyLiteral, outcomeSkipped)
	}

	return nil, nil, StrategyNone
}

// accept records the outcome of one strategy. ok is true when the decoded
// value is a mapping or a string worth decoding again.
func (c *cascade) accept(strategy Strategy, v any, err error) (map[string]any, *string, bool) {
	if err == nil {
		switch t := v.(type) {
		case map[string]any:
			recordParseAttempt(strategy, outcomeSuccess)
			return t, nil, true
		case string:
			recordParseAttempt(strategy, outcomeNested)
			return nil, &t, true
		default:
			err = fmt.Errorf("decoded %s, not an object", describe(v))
		}
	}

	recordParseAttempt(strategy, outcomeFailure)
	c.logger.Debug("parse strategy failed",
		slog.String(log.StrategyKey, string(strategy)),
		log.Error(err))
	return nil, nil, false
}

func decodeStrict(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return agentdef.NormalizeValue(v), nil
}

// decodeLiteral rewrites a Python-style literal into JSON and decodes it
// strictly.
func decodeLiteral(text string) (any, error) {
	converted, err := literalToJSON(text)
	if err != nil {
		return nil, fmt.Errorf("literal: %w", err)
	}
	return decodeStrict(converted)
}

// escapeControlInStrings drops every carriage return and escapes the raw
// control characters that appear inside JSON string literals. Whitespace
// between tokens is left alone.
func escapeControlInStrings(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch == '\r' {
			continue
		}
		if !inString {
			if ch == '"' {
				inString = true
			}
			b.WriteByte(ch)
			continue
		}

		switch {
		case escaped:
			escaped = false
			b.WriteByte(ch)
		case ch == '\\':
			escaped = true
			b.WriteByte(ch)
		case ch == '"':
			inString = false
			b.WriteByte(ch)
		case ch == '\n':
			b.WriteString(`\n`)
		case ch == '\t':
			b.WriteString(`\t`)
		case ch < 0x20:
			fmt.Fprintf(&b, `\u%04x`, ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case bool:
		return "a boolean"
	case int, float64:
		return "a number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
