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
	"errors"
	"fmt"
)

// Wrap annotates err with a message. If err is nil, returns nil.
//
// Usage:
//
//	if err := w.copyRole(path); err != nil {
//	    return errors.Wrap(err, "mirroring role")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf annotates err with a formatted message. If err is nil, returns nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Persistence builds a PersistenceError, returning nil when cause is nil so
// call sites can wrap unconditionally.
func Persistence(op, path string, cause error) error {
	if cause == nil {
		return nil
	}
	return &PersistenceError{Op: op, Path: path, Cause: cause}
}

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsRetryable reports whether err (or anything it wraps) classifies itself
// as retryable.
func IsRetryable(err error) bool {
	var c ErrorClassifier
	if errors.As(err, &c) {
		return c.IsRetryable()
	}
	return false
}
