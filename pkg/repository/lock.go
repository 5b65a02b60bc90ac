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

package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockTimeout    = 5 * time.Second
	lockRetryDelay = 25 * time.Millisecond
)

// lockPath returns the hidden lock file guarding path.
func lockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}

// acquireLock takes an exclusive advisory lock guarding path. The lock file
// is left in place after release.
func acquireLock(ctx context.Context, path string) (*flock.Flock, error) {
	fl := flock.New(lockPath(path))

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s locked by another process (timeout after %v)", path, lockTimeout)
	}
	return fl, nil
}
