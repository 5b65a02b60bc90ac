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
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName turns an agent name into a single file name component.
// Accents are folded ("Selección" → "Seleccion"), every run of characters
// outside [A-Za-z0-9._-] becomes "_", and leading dots are dropped, so the
// result never contains a path separator and is never "." or "..".
func SafeName(name string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, strings.TrimSpace(name))
	if err != nil {
		folded = name
	}

	s := unsafeNameChars.ReplaceAllString(folded, "_")
	s = strings.TrimLeft(s, ".")
	if s == "" || s == "_" {
		return UnnamedAgent
	}
	return s
}

// FileName returns the canonical file name for an agent name.
func FileName(name string) string {
	return SafeName(name) + ".yaml"
}
