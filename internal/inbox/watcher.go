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
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// eventBuffer bounds the number of events queued between the fsnotify loop
// and the consumer before new events are dropped.
const eventBuffer = 256

// watcher turns fsnotify events for a single directory into Events.
type watcher struct {
	dir     string
	fsw     *fsnotify.Watcher
	eventCh chan Event
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newWatcher(dir string, logger *slog.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &watcher{
		dir:     dir,
		fsw:     fsw,
		eventCh: make(chan Event, eventBuffer),
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

func (w *watcher) start(ctx context.Context) {
	go w.loop(ctx)
}

// stop ends the event loop and releases the fsnotify handle. It is safe to
// call after the loop exited because ctx was cancelled.
func (w *watcher) stop() error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
	return w.fsw.Close()
}

func (w *watcher) events() <-chan Event {
	return w.eventCh
}

func (w *watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.eventCh)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("inbox watcher stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Debug("inbox watcher stopped")
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				w.logger.Warn("fsnotify event channel closed")
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.logger.Warn("fsnotify error channel closed")
				return
			}
			recordError("watch")
			w.logger.Error("inbox watcher error", "error", err)
		}
	}
}

func (w *watcher) handle(event fsnotify.Event) {
	typ, ok := eventType(event.Op)
	if !ok {
		return
	}

	var (
		size  int64
		mtime time.Time
		isDir bool
	)
	if typ == EventCreated || typ == EventModified {
		info, err := os.Stat(event.Name)
		if err != nil {
			// Removed between the event and the stat.
			w.logger.Debug("failed to stat file", "path", event.Name, "error", err)
			return
		}
		size, mtime, isDir = info.Size(), info.ModTime(), info.IsDir()
	}

	select {
	case w.eventCh <- NewEvent(event.Name, typ, isDir, size, mtime):
	default:
		recordError("dropped")
		w.logger.Warn("inbox event channel full, dropping event", "type", typ, "path", event.Name)
	}
}
