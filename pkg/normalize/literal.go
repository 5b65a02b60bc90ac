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
	"strconv"
	"strings"
	"unicode/utf8"
)

// literalToJSON rewrites a Python-style literal into JSON text. It handles
// single, double and triple quoted strings with backslash escapes, the
// r and u string prefixes, True/False/None, tuples, trailing commas and bare
// identifier keys. Everything else is passed through for the strict decoder
// to judge.
func literalToJSON(text string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(text); {
		ch := text[i]
		switch {
		case ch == '\'' || ch == '"':
			s, n, err := readLiteralString(text[i:], false)
			if err != nil {
				return "", fmt.Errorf("offset %d: %w", i, err)
			}
			writeJSONString(&b, s)
			i += n
		case ch == '(':
			b.WriteByte('[')
			i++
		case ch == ')':
			b.WriteByte(']')
			i++
		case ch == ',':
			if j := skipSpace(text, i+1); j < len(text) && strings.IndexByte("]})", text[j]) >= 0 {
				i++
				continue
			}
			b.WriteByte(',')
			i++
		case isDigit(ch):
			j := scanNumber(text, i)
			b.WriteString(strings.ReplaceAll(text[i:j], "_", ""))
			i = j
		case isIdentStart(ch):
			j := i
			for j < len(text) && isIdentPart(text[j]) {
				j++
			}
			word := text[i:j]

			if j < len(text) && (text[j] == '\'' || text[j] == '"') && isStringPrefix(word) {
				s, n, err := readLiteralString(text[j:], strings.ContainsAny(word, "rR"))
				if err != nil {
					return "", fmt.Errorf("offset %d: %w", j, err)
				}
				writeJSONString(&b, s)
				i = j + n
				continue
			}

			switch word {
			case "True", "true":
				b.WriteString("true")
			case "False", "false":
				b.WriteString("false")
			case "None", "null":
				b.WriteString("null")
			default:
				if k := skipSpace(text, j); k >= len(text) || text[k] != ':' {
					return "", fmt.Errorf("offset %d: unexpected identifier %q", i, word)
				}
				writeJSONString(&b, word)
			}
			i = j
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String(), nil
}

// readLiteralString decodes the quoted string at the start of s and returns
// it with the number of bytes consumed.
func readLiteralString(s string, raw bool) (string, int, error) {
	quote := s[0]
	closing := s[:1]
	if len(s) >= 3 && s[1] == quote && s[2] == quote {
		closing = s[:3]
	}

	var b strings.Builder
	for i := len(closing); i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], closing):
			return b.String(), i + len(closing), nil
		case s[i] == '\\' && i+1 < len(s):
			if raw {
				b.WriteString(s[i : i+2])
				i += 2
				continue
			}
			n, err := decodeEscape(&b, s[i:])
			if err != nil {
				return "", 0, err
			}
			i += n
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

// decodeEscape writes the character of the escape sequence at the start of
// s and returns its length. Unknown escapes are kept as written.
func decodeEscape(b *strings.Builder, s string) (int, error) {
	switch c := s[1]; c {
	case '\n':
		return 2, nil
	case '\\', '\'', '"':
		b.WriteByte(c)
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'a':
		b.WriteByte('\a')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case 'x', 'u', 'U':
		width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
		if len(s) < 2+width {
			return 0, fmt.Errorf("truncated \\%c escape", c)
		}
		code, err := strconv.ParseUint(s[2:2+width], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid \\%c escape %q", c, s[2:2+width])
		}
		b.WriteRune(validRune(rune(code)))
		return 2 + width, nil
	case '0', '1', '2', '3', '4', '5', '6', '7':
		n := 1
		for n < 3 && 1+n < len(s) && s[1+n] >= '0' && s[1+n] <= '7' {
			n++
		}
		code, _ := strconv.ParseUint(s[1:1+n], 8, 32)
		b.WriteRune(rune(code))
		return 1 + n, nil
	default:
		b.WriteString(s[:2])
	}
	return 2, nil
}

func validRune(r rune) rune {
	if !utf8.ValidRune(r) {
		return utf8.RuneError
	}
	return r
}

func writeJSONString(b *strings.Builder, s string) {
	data, _ := json.Marshal(s)
	b.Write(data)
}

func scanNumber(text string, i int) int {
	j := i
	for j < len(text) {
		c := text[j]
		switch {
		case isDigit(c), c == '.', c == '_', c == 'e', c == 'E':
		case (c == '+' || c == '-') && (text[j-1] == 'e' || text[j-1] == 'E'):
		default:
			return j
		}
		j++
	}
	return j
}

func skipSpace(text string, i int) int {
	for i < len(text) && strings.IndexByte(" \t\r\n", text[i]) >= 0 {
		i++
	}
	return i
}

func isStringPrefix(word string) bool {
	switch strings.ToLower(word) {
	case "r", "u":
		return true
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
