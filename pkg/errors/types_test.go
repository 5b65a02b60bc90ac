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

package errors_test

import (
	"errors"
	"io/fs"
	"testing"

	normerrors "github.com/tombee/agentnorm/pkg/errors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *normerrors.ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &normerrors.ValidationError{
				Field:      "max_unwraps",
				Message:    "must be between 1 and 32",
				Suggestion: "Use the default of 5",
			},
			wantMsg: "validation failed on max_unwraps: must be between 1 and 32",
		},
		{
			name:    "without field",
			err:     &normerrors.ValidationError{Message: "invalid format"},
			wantMsg: "validation failed: invalid format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *normerrors.ConfigError
		wantMsg string
	}{
		{
			name:    "with key",
			err:     &normerrors.ConfigError{Key: "roles_dir", Reason: "must not be empty"},
			wantMsg: "config error at roles_dir: must not be empty",
		},
		{
			name:    "without key",
			err:     &normerrors.ConfigError{Reason: "bad file"},
			wantMsg: "config error: bad file",
		},
		{
			name:    "with cause",
			err:     &normerrors.ConfigError{Key: "config_file", Reason: "failed to load", Cause: errors.New("boom")},
			wantMsg: "config error at config_file: failed to load: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ConfigError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestPersistenceError(t *testing.T) {
	err := &normerrors.PersistenceError{Op: "write", Path: "/tmp/x.yaml", Cause: fs.ErrPermission}

	if got, want := err.Error(), "persistence write /tmp/x.yaml: permission denied"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("PersistenceError should unwrap to its cause")
	}
	if err.ErrorType() != "persistence" {
		t.Errorf("ErrorType() = %q", err.ErrorType())
	}
	if !err.IsRetryable() {
		t.Error("persistence errors should be retryable")
	}
}
