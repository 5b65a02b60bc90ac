package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/agentnorm/internal/config"
	"github.com/tombee/agentnorm/internal/inbox"
	"github.com/tombee/agentnorm/internal/log"
	"github.com/tombee/agentnorm/pkg/agentdef"
	normerrors "github.com/tombee/agentnorm/pkg/errors"
	"github.com/tombee/agentnorm/pkg/normalize"
	"github.com/tombee/agentnorm/pkg/repository"
	"github.com/tombee/agentnorm/schemas"
)

// SDK is the main entry point for normalizing model responses.
// It owns an engine, a repository writer and the event handlers.
// Each SDK instance maintains isolated state with no shared globals.
type SDK struct {
	cfg            *config.Config
	fromConfig     bool
	logger         *slog.Logger
	tracerProvider trace.TracerProvider

	engine *normalize.Engine
	repo   *repository.Writer

	// Event handlers by event type
	eventHandlers map[EventType][]EventHandler
	eventMu       sync.RWMutex

	closeMu sync.RWMutex
	closed  bool
}

// New creates a new SDK instance with the given options.
// Without options it uses the built-in defaults and reads no files or
// environment variables.
//
// Example:
//
//	s, err := sdk.New(
//		sdk.WithRolesDir("agents/roles"),
//		sdk.WithLogger(slog.Default()),
//	)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
func New(opts ...Option) (*SDK, error) {
	s := &SDK{
		cfg:           config.Default(),
		eventHandlers: make(map[EventType][]EventHandler),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if err := s.cfg.Validate(); err != nil {
		return nil, &normerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	if s.logger == nil {
		if s.fromConfig {
			s.logger = log.New(s.cfg.LoggerConfig())
		} else {
			s.logger = slog.Default()
		}
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}

	engine, err := normalize.NewEngine(
		normalize.WithLogger(s.logger),
		normalize.WithMaxUnwraps(s.cfg.MaxUnwraps),
		normalize.WithLLMDefaults(s.cfg.LLMDefaults),
		normalize.WithPayloadQuery(s.cfg.PayloadQuery),
		normalize.WithTracerProvider(s.tracerProvider),
	)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	s.engine = engine

	s.repo = repository.New(s.cfg.RolesDir,
		repository.WithWorkflowFile(s.cfg.WorkflowFile),
		repository.WithKeepRaw(s.cfg.KeepRaw),
		repository.WithLogger(s.logger),
	)

	return s, nil
}

// Close releases the SDK. Later calls return ErrClosed.
// Close is safe to call multiple times.
func (s *SDK) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	s.closed = true
	return nil
}

func (s *SDK) isClosed() bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	return s.closed
}

// RolesDir returns the shared roles directory.
func (s *SDK) RolesDir() string {
	return s.repo.RolesDir()
}

// AgentSchema returns the JSON Schema of the canonical agent files.
func AgentSchema() []byte {
	return schemas.GetAgentSchema()
}

// Process normalizes raw without writing anything. raw may be a string,
// []byte, json.RawMessage, map[string]any or nil. Malformed input never
// fails; the result always carries a workflow, agents or the raw text.
func (s *SDK) Process(ctx context.Context, raw any) (*normalize.Result, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return s.engine.Process(ctx, raw), nil
}

// Normalize normalizes raw and writes the workflow and agent files into
// outDir, mirroring roles into the shared roles directory and linking
// managers to them. Only filesystem failures are returned, as
// *errors.PersistenceError; the returned Result is set either way.
//
// Example:
//
//	res, err := s.Normalize(ctx, responseText, "output/hr_usecase")
//	if err != nil {
//		return err
//	}
//	for _, path := range res.Files.AgentPaths {
//		fmt.Println("wrote", path)
//	}
func (s *SDK) Normalize(ctx context.Context, raw any, outDir string) (*Result, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if strings.TrimSpace(outDir) == "" {
		return nil, &normerrors.ValidationError{
			Field:      "outDir",
			Message:    "output directory cannot be empty",
			Suggestion: "pass the directory the workflow and agent files belong in",
		}
	}

	mw := &manifestWriter{repo: s.repo}
	res, err := s.engine.Normalize(ctx, raw, outDir, mw)
	out := &Result{Normalized: res, Files: mw.manifest, OutDir: outDir}
	if out.Files == nil {
		out.Files = &repository.Manifest{}
	}
	if err != nil {
		return out, err
	}

	s.emitResult(ctx, out)
	return out, nil
}

// NormalizeFile normalizes a saved raw response file. An empty outDir
// means <inbox out_root>/<file name without extension>.
func (s *SDK) NormalizeFile(ctx context.Context, path, outDir string) (*Result, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, normerrors.Persistence("read", path, err)
	}
	if outDir == "" {
		ev := inbox.NewEvent(path, inbox.EventCreated, false, int64(len(data)), time.Time{})
		outDir = filepath.Join(s.cfg.Inbox.OutRoot, ev.UseCase())
	}
	return s.Normalize(ctx, data, outDir)
}

// Watch observes the configured inbox directory and normalizes every raw
// response file dropped into it, until ctx is cancelled. Failures on
// individual files are logged and do not stop watching.
//
// Example:
//
//	s, _ := sdk.New(sdk.WithInbox("inbox", "output"))
//	go s.Watch(ctx)
func (s *SDK) Watch(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.cfg.Inbox.Dir == "" {
		return ErrInboxNotConfigured
	}

	handler := inbox.HandlerFunc(func(ctx context.Context, f inbox.File) error {
		_, err := s.Normalize(ctx, f.Data, f.OutDir)
		return err
	})

	in, err := inbox.New(inbox.Config{
		Dir:      s.cfg.Inbox.Dir,
		OutRoot:  s.cfg.Inbox.OutRoot,
		Include:  s.cfg.Inbox.Include,
		Exclude:  s.cfg.Inbox.Exclude,
		Debounce: s.cfg.Inbox.Debounce,
	}, handler, inbox.WithLogger(s.logger), inbox.WithInitialScan())
	if err != nil {
		return err
	}
	return in.Run(ctx)
}

// OnEvent registers an event handler for the specified event type.
// Multiple handlers can be registered for the same event type.
// Handlers are called synchronously in registration order.
//
// If a handler panics, the panic is recovered and logged, but subsequent
// handlers still run.
//
// Example:
//
//	s.OnEvent(sdk.EventAgentWritten, func(ctx context.Context, e *sdk.Event) {
//		data := e.Data.(sdk.AgentWrittenEvent)
//		log.Printf("wrote %s to %s", data.Name, data.Path)
//	})
func (s *SDK) OnEvent(eventType EventType, handler EventHandler) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.eventHandlers[eventType] = append(s.eventHandlers[eventType], handler)
}

// emitEvent emits an event to all registered handlers.
// Panics in handlers are recovered and logged.
func (s *SDK) emitEvent(ctx context.Context, event *Event) {
	s.eventMu.RLock()
	handlers := s.eventHandlers[event.Type]
	s.eventMu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("event handler panic",
						"event_type", event.Type,
						"panic", r,
					)
				}
			}()
			handler(ctx, event)
		}()
	}
}

// emitResult emits the events for one written result.
func (s *SDK) emitResult(ctx context.Context, res *Result) {
	norm := res.Normalized
	now := time.Now()
	newEvent := func(t EventType, data any) *Event {
		return &Event{Type: t, Timestamp: now, RunID: norm.RunID, Data: data}
	}

	if norm.IsFallback() {
		s.emitEvent(ctx, newEvent(EventNormalizeFallback, FallbackEvent{
			WorkflowSalvaged: norm.Workflow != nil,
			AgentsSalvaged:   len(norm.Agents),
			RawLength:        len(*norm.RawString),
		}))
	}

	for i, path := range res.Files.AgentPaths {
		if i >= len(norm.Agents) {
			break
		}
		agent := norm.Agents[i]
		s.emitEvent(ctx, newEvent(EventAgentWritten, AgentWrittenEvent{
			Name: agent.Name,
			Kind: agent.Kind,
			Path: path,
		}))
	}

	patched := make(map[string]bool, len(res.Files.PatchedManagers))
	for _, path := range res.Files.PatchedManagers {
		patched[path] = true
	}
	for i, path := range res.Files.AgentPaths {
		if i >= len(norm.Agents) || !patched[path] {
			continue
		}
		agent := norm.Agents[i]
		if agent.Kind != agentdef.KindManager {
			continue
		}
		roles := make([]string, 0, len(agent.Canonical.ManagedAgents))
		for _, m := range agent.Canonical.ManagedAgents {
			roles = append(roles, m.File)
		}
		s.emitEvent(ctx, newEvent(EventManagerLinked, ManagerLinkedEvent{
			Name:  agent.Name,
			Path:  path,
			Roles: roles,
		}))
	}

	s.emitEvent(ctx, newEvent(EventNormalizeCompleted, CompletedEvent{
		Strategy: norm.Strategy,
		Unwraps:  norm.Unwraps,
		Agents:   len(norm.Agents),
		Fallback: norm.IsFallback(),
		OutDir:   res.OutDir,
	}))
}

// manifestWriter adapts repository.Writer to normalize.ResultWriter and
// keeps the manifest of the write.
type manifestWriter struct {
	repo     *repository.Writer
	manifest *repository.Manifest
}

func (m *manifestWriter) WriteResult(ctx context.Context, res *normalize.Result, outDir string) error {
	manifest, err := m.repo.Write(ctx, res, outDir)
	m.manifest = manifest
	return err
}
