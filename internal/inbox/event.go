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
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/agentnorm/pkg/agentdef"
)

// Event types reported by the watcher.
const (
	EventCreated  = "created"
	EventModified = "modified"
	EventRemoved  = "removed"
	EventRenamed  = "renamed"
)

// Event describes one filesystem change to a file in the inbox directory.
type Event struct {
	// Path is the absolute path of the file.
	Path string `json:"path"`

	// Name is the base file name.
	Name string `json:"name"`

	// Type is one of created, modified, removed or renamed.
	Type string `json:"type"`

	Size  int64     `json:"size,omitempty"`
	MTime time.Time `json:"mtime,omitempty"`
	IsDir bool      `json:"is_dir"`
}

// NewEvent builds an Event for path.
func NewEvent(path, eventType string, isDir bool, size int64, mtime time.Time) Event {
	return Event{
		Path:  path,
		Name:  filepath.Base(path),
		Type:  eventType,
		Size:  size,
		MTime: mtime,
		IsDir: isDir,
	}
}

// UseCase returns the use-case identifier derived from the file name: the
// name without its extension, made safe for use as a directory name.
func (e Event) UseCase() string {
	stem := strings.TrimSuffix(e.Name, filepath.Ext(e.Name))
	return agentdef.SafeName(stem)
}

// Settles reports whether the event leaves a readable file behind.
func (e Event) Settles() bool {
	return !e.IsDir && (e.Type == EventCreated || e.Type == EventModified)
}

// eventType maps an fsnotify operation to an event type. Chmod-only
// operations have no type.
func eventType(op fsnotify.Op) (string, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return EventCreated, true
	case op.Has(fsnotify.Write):
		return EventModified, true
	case op.Has(fsnotify.Remove):
		return EventRemoved, true
	case op.Has(fsnotify.Rename):
		return EventRenamed, true
	}
	return "", false
}
