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

package errors

import (
	"fmt"
)

// ValidationError represents invalid caller-supplied settings.
// Malformed upstream responses are never reported this way; they are
// salvaged instead.
type ValidationError struct {
	// Field identifies which setting failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "roles_dir", "inbox.dir")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }

// PersistenceError represents a filesystem failure while writing normalized
// artifacts. It is an environment error: the same input will succeed once the
// destination becomes writable.
type PersistenceError struct {
	// Op is the operation that failed (e.g., "mkdir", "write", "copy", "lock")
	Op string

	// Path is the file or directory involved
	Path string

	// Cause is the underlying filesystem error
	Cause error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("persistence %s %s failed", e.Op, e.Path)
	}
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *PersistenceError) ErrorType() string { return "persistence" }

// IsRetryable implements ErrorClassifier.
// A later attempt can succeed once the filesystem problem is fixed.
func (e *PersistenceError) IsRetryable() bool { return true }
