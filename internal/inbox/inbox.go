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

// Package inbox watches a directory for raw model responses dropped as
// files and hands each settled file to a Handler together with the output
// directory reserved for it.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/agentnorm/internal/log"
)

// MaxFileSize is the largest inbox file that is read. Larger files are
// skipped and counted as errors.
const MaxFileSize = 32 << 20

// ErrFileTooLarge is returned by Process for files above MaxFileSize.
var ErrFileTooLarge = errors.New("inbox file exceeds size limit")

// File is a settled inbox file ready for normalization.
type File struct {
	Event

	// Data is the file content.
	Data []byte

	// OutDir is <OutRoot>/<use case>, the directory the result belongs in.
	OutDir string
}

// Handler consumes settled inbox files.
type Handler interface {
	HandleFile(ctx context.Context, f File) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, f File) error

// HandleFile calls fn.
func (fn HandlerFunc) HandleFile(ctx context.Context, f File) error {
	return fn(ctx, f)
}

// Config describes one inbox.
type Config struct {
	// Dir is the watched directory. It must exist.
	Dir string

	// OutRoot is the parent of every per-file output directory.
	OutRoot string

	// Include and Exclude are doublestar patterns. Empty lists use
	// DefaultIncludePatterns and DefaultExcludePatterns.
	Include []string
	Exclude []string

	// Debounce is the quiet period before a file is read. Zero handles
	// every event immediately.
	Debounce time.Duration
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Inbox) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// WithInitialScan makes Run process files already present in the
// directory before waiting for new events.
func WithInitialScan() Option {
	return func(in *Inbox) {
		in.initialScan = true
	}
}

// Inbox watches Config.Dir and dispatches settled files to a Handler.
type Inbox struct {
	dir         string
	outRoot     string
	debounce    time.Duration
	matcher     *Matcher
	handler     Handler
	logger      *slog.Logger
	initialScan bool
}

// New validates cfg and returns an Inbox. Nothing is watched until Run.
func New(cfg Config, h Handler, opts ...Option) (*Inbox, error) {
	if h == nil {
		return nil, errors.New("inbox: handler is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("inbox: directory is required")
	}
	if cfg.OutRoot == "" {
		return nil, errors.New("inbox: output root is required")
	}
	if cfg.Debounce < 0 {
		return nil, fmt.Errorf("inbox: debounce must be non-negative, got %v", cfg.Debounce)
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: resolve %s: %w", cfg.Dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox: %s is not a directory", dir)
	}
	outRoot, err := filepath.Abs(cfg.OutRoot)
	if err != nil {
		return nil, fmt.Errorf("inbox: resolve %s: %w", cfg.OutRoot, err)
	}

	exclude := cfg.Exclude
	if len(exclude) == 0 {
		exclude = DefaultExcludePatterns()
	}
	matcher, err := NewMatcher(cfg.Include, exclude)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}

	in := &Inbox{
		dir:      dir,
		outRoot:  outRoot,
		debounce: cfg.Debounce,
		matcher:  matcher,
		handler:  h,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = log.WithComponent(in.logger, "inbox").With(slog.String("dir", dir))
	return in, nil
}

// OutDir returns the output directory for an inbox file name.
func (in *Inbox) OutDir(ev Event) string {
	return filepath.Join(in.outRoot, ev.UseCase())
}

// Run watches the directory until ctx is cancelled. Files still settling
// when ctx ends are processed before Run returns. Handler errors are logged
// and counted; they never stop the inbox.
func (in *Inbox) Run(ctx context.Context) error {
	w, err := newWatcher(in.dir, in.logger)
	if err != nil {
		recordError("watch")
		return fmt.Errorf("inbox: %w", err)
	}

	// Held files are flushed after ctx ends, so handlers get a context that
	// keeps ctx's values but not its cancellation.
	handlerCtx := context.WithoutCancel(ctx)
	dispatch := func(ev Event) {
		if err := in.Process(handlerCtx, ev); err != nil {
			in.logger.Error("failed to process inbox file", "path", ev.Path, log.Error(err))
		}
	}

	var deb *Debouncer
	if in.debounce > 0 {
		deb = NewDebouncer(in.debounce, dispatch)
	}

	w.start(ctx)
	in.logger.Info("inbox started", "out_root", in.outRoot, "debounce", in.debounce)

	if in.initialScan {
		in.scan(ctx, dispatch)
	}

	for ev := range w.events() {
		recordEvent(ev.Type)
		if !ev.Settles() {
			continue
		}
		if !in.matcher.Match(ev.Path) {
			recordExcluded()
			in.logger.Debug("file excluded by pattern", "path", ev.Path)
			continue
		}
		if deb != nil {
			deb.Add(ev)
		} else {
			dispatch(ev)
		}
	}

	if deb != nil {
		deb.Stop()
	}
	in.logger.Info("inbox stopped")
	return w.stop()
}

func (in *Inbox) scan(ctx context.Context, dispatch func(Event)) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		recordError("scan")
		in.logger.Error("failed to scan inbox", log.Error(err))
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(in.dir, entry.Name())
		if !in.matcher.Match(path) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dispatch(NewEvent(path, EventCreated, false, info.Size(), info.ModTime()))
	}
}

// Process reads the file named by ev and passes it to the handler.
func (in *Inbox) Process(ctx context.Context, ev Event) error {
	data, err := readLimited(ev.Path)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			recordError("too_large")
		} else {
			recordError("read")
		}
		return err
	}

	f := File{Event: ev, Data: data, OutDir: in.OutDir(ev)}
	in.logger.Debug("processing inbox file", "path", ev.Path, "out_dir", f.OutDir, "size", len(data))
	if err := in.handler.HandleFile(ctx, f); err != nil {
		recordError("handler")
		return fmt.Errorf("handle %s: %w", ev.Path, err)
	}
	return nil
}

func readLimited(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()

	data, err := io.ReadAll(io.LimitReader(fh, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%s: %w", path, ErrFileTooLarge)
	}
	return data, nil
}
