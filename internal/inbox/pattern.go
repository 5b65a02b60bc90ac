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

package inbox

import (
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIncludePatterns are the raw response files picked up when no
// include patterns are configured.
func DefaultIncludePatterns() []string {
	return []string{"*.json", "*.txt"}
}

// DefaultExcludePatterns returns hidden files, editor temporary files and
// partially written downloads.
func DefaultExcludePatterns() []string {
	return []string{
		"*.swp",
		"*.swo",
		".*.sw?",
		"*~",
		"#*#",
		".#*",
		".DS_Store",
		"Thumbs.db",
		"*.tmp",
		"*.part",
		"*.crdownload",
		".*",
	}
}

// Matcher applies include and exclude glob patterns to file paths.
// Patterns use doublestar syntax; "**" crosses directory separators.
type Matcher struct {
	include []string
	exclude []string
}

// NewMatcher validates and returns a Matcher. An empty include list falls
// back to DefaultIncludePatterns. Exclude patterns win over includes.
func NewMatcher(include, exclude []string) (*Matcher, error) {
	if len(include) == 0 {
		include = DefaultIncludePatterns()
	}
	for _, p := range include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}
	for _, p := range exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return &Matcher{include: include, exclude: exclude}, nil
}

// Match reports whether path is included and not excluded. Each pattern is
// tried against the slash-separated path and against the base name.
func (m *Matcher) Match(path string) bool {
	included := false
	for _, p := range m.include {
		if matchPattern(p, path) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range m.exclude {
		if matchPattern(p, path) {
			return false
		}
	}
	return true
}

func matchPattern(pattern, path string) bool {
	if ok, _ := doublestar.Match(pattern, filepath.ToSlash(path)); ok {
		return true
	}
	ok, _ := doublestar.Match(pattern, filepath.Base(path))
	return ok
}
