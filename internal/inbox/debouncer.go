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
	"sync"
	"time"
)

// Debouncer holds back events per file until no new event for the same path
// has arrived for the window duration, then delivers the latest one. A file
// written in several chunks is therefore processed once, after it settles.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timers  map[string]*pending
	onFlush func(Event)
	stopped bool

	// inflight counts scheduled or running flushes.
	inflight sync.WaitGroup
}

type pending struct {
	timer *time.Timer
	event Event
}

// NewDebouncer returns a Debouncer that calls onFlush with the last event
// seen for a path once that path has been quiet for window.
func NewDebouncer(window time.Duration, onFlush func(Event)) *Debouncer {
	return &Debouncer{
		window:  window,
		timers:  make(map[string]*pending),
		onFlush: onFlush,
	}
}

// Add records an event and restarts the timer for its path. Events added
// after Stop are ignored.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	path := ev.Path
	if p, ok := d.timers[path]; ok {
		if p.timer.Stop() {
			d.inflight.Done()
		}
		p.event = ev
	} else {
		d.timers[path] = &pending{event: ev}
	}

	d.inflight.Add(1)
	d.timers[path].timer = time.AfterFunc(d.window, func() {
		defer d.inflight.Done()
		d.flush(path)
	})
}

func (d *Debouncer) flush(path string) {
	d.mu.Lock()
	p, ok := d.timers[path]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.timers, path)
	d.mu.Unlock()

	if d.onFlush != nil {
		d.onFlush(p.event)
	}
}

// Stop cancels every pending timer and delivers the held events
// immediately, then waits for flushes already running to return.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.inflight.Wait()
		return
	}
	d.stopped = true

	var held []Event
	for path, p := range d.timers {
		// A timer that already fired owns its entry and flushes it itself.
		if p.timer.Stop() {
			d.inflight.Done()
			held = append(held, p.event)
			delete(d.timers, path)
		}
	}
	d.mu.Unlock()

	if d.onFlush != nil {
		for _, ev := range held {
			d.onFlush(ev)
		}
	}
	d.inflight.Wait()
}

// Pending returns the number of paths waiting on a timer.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}
