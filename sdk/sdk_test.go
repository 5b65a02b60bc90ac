package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/agentnorm/internal/log"
	"github.com/tombee/agentnorm/pkg/agentdef"
	normerrors "github.com/tombee/agentnorm/pkg/errors"
	"github.com/tombee/agentnorm/pkg/normalize"
)

// wrappedResponse returns a hiring payload double-encoded under "output",
// the way model gateways usually deliver it.
func wrappedResponse(t *testing.T) string {
	t.Helper()
	inner, err := json.Marshal(map[string]any{
		"workflow_yaml": "flow_name: hiring\nsteps: []\n",
		"agents": []any{
			map[string]any{"name": "HR_Manager_v1", "yaml": "name: HR_Manager_v1\ndescription: Runs hiring\n"},
			map[string]any{"name": "Candidate_Screening_Role", "yaml": "name: Candidate_Screening_Role\ndescription: Screens resumes.\n"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	outer, err := json.Marshal(map[string]any{"output": string(inner)})
	if err != nil {
		t.Fatal(err)
	}
	return string(outer)
}

type eventLog struct {
	mu     sync.Mutex
	events []*Event
}

func (l *eventLog) record(_ context.Context, e *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t EventType) []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestSDK(t *testing.T, opts ...Option) (*SDK, string) {
	t.Helper()
	root := t.TempDir()
	opts = append([]Option{
		WithLogger(log.Discard()),
		WithRolesDir(filepath.Join(root, "agents", "roles")),
	}, opts...)
	s, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, root
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{
			name:    "empty options",
			opts:    []Option{},
			wantErr: false,
		},
		{
			name:    "nil logger",
			opts:    []Option{WithLogger(nil)},
			wantErr: true,
		},
		{
			name:    "nil tracer provider",
			opts:    []Option{WithTracerProvider(nil)},
			wantErr: true,
		},
		{
			name:    "empty roles dir",
			opts:    []Option{WithRolesDir("")},
			wantErr: true,
		},
		{
			name:    "max unwraps out of range",
			opts:    []Option{WithMaxUnwraps(0)},
			wantErr: true,
		},
		{
			name:    "invalid payload query",
			opts:    []Option{WithPayloadQuery(".output[")},
			wantErr: true,
		},
		{
			name:    "workflow file with separator",
			opts:    []Option{WithWorkflowFile("../workflow.yaml")},
			wantErr: true,
		},
		{
			name:    "invalid inbox pattern",
			opts:    []Option{WithInboxPatterns([]string{"[x"}, nil)},
			wantErr: true,
		},
		{
			name:    "missing config file",
			opts:    []Option{WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))},
			wantErr: true,
		},
		{
			name: "tuned",
			opts: []Option{
				WithMaxUnwraps(8),
				WithKeepRaw(true),
				WithPayloadQuery(".data"),
				WithLLMDefaults(agentdef.LLMDefaults{Model: "gpt-4.1"}),
				WithInboxDebounce(0),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if s != nil {
				defer s.Close()
			}
		})
	}
}

func TestNew_ValidationErrorIsConfigError(t *testing.T) {
	_, err := New(WithMaxUnwraps(99))
	var cfgErr *normerrors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want *errors.ConfigError", err)
	}
}

func TestNew_ConfigFile(t *testing.T) {
	t.Setenv("AGENTNORM_ROLES_DIR", "")
	t.Setenv("AGENTNORM_MAX_UNWRAPS", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "roles_dir: " + filepath.Join(dir, "shared") + "\nmax_unwraps: 3\nlog:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := New(WithConfigFile(path))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if got := s.RolesDir(); got != filepath.Join(dir, "shared") {
		t.Errorf("RolesDir() = %q", got)
	}

	// Later options override the file.
	s2, err := New(WithConfigFile(path), WithRolesDir("elsewhere"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s2.Close()
	if got := s2.RolesDir(); got != "elsewhere" {
		t.Errorf("RolesDir() = %q, want option to win", got)
	}
}

func TestSDK_Close(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() second call error = %v", err)
	}

	if _, err := s.Process(context.Background(), "{}"); !errors.Is(err, ErrClosed) {
		t.Errorf("Process() after Close error = %v, want ErrClosed", err)
	}
	if _, err := s.Normalize(context.Background(), "{}", t.TempDir()); !errors.Is(err, ErrClosed) {
		t.Errorf("Normalize() after Close error = %v, want ErrClosed", err)
	}
	if err := s.Watch(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Watch() after Close error = %v, want ErrClosed", err)
	}
}

func TestSDK_Process(t *testing.T) {
	s, root := newTestSDK(t)

	res, err := s.Process(context.Background(), wrappedResponse(t))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Workflow == nil || res.Workflow.Name != "hiring" {
		t.Errorf("workflow = %+v, want hiring", res.Workflow)
	}
	if len(res.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(res.Agents))
	}
	if res.Unwraps != 1 {
		t.Errorf("unwraps = %d, want 1", res.Unwraps)
	}

	// Process writes nothing.
	if _, err := os.Stat(filepath.Join(root, "agents")); !os.IsNotExist(err) {
		t.Errorf("roles dir exists after Process: %v", err)
	}
}

func TestSDK_Normalize(t *testing.T) {
	s, root := newTestSDK(t)
	events := &eventLog{}
	for _, et := range []EventType{EventNormalizeCompleted, EventNormalizeFallback, EventAgentWritten, EventManagerLinked} {
		s.OnEvent(et, events.record)
	}

	outDir := filepath.Join(root, "output", "hiring")
	res, err := s.Normalize(context.Background(), wrappedResponse(t), outDir)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	workflow, err := os.ReadFile(filepath.Join(outDir, "workflow.yaml"))
	if err != nil {
		t.Fatalf("read workflow: %v", err)
	}
	if string(workflow) != "flow_name: hiring\nsteps: []\n" {
		t.Errorf("workflow.yaml = %q", workflow)
	}
	if len(res.Files.AgentPaths) != 2 {
		t.Errorf("agent paths = %v", res.Files.AgentPaths)
	}

	rolePath := filepath.Join(s.RolesDir(), "Candidate_Screening_Role.yaml")
	if _, err := os.Stat(rolePath); err != nil {
		t.Errorf("role not mirrored: %v", err)
	}

	managerData, err := os.ReadFile(filepath.Join(outDir, "HR_Manager_v1.yaml"))
	if err != nil {
		t.Fatalf("read manager: %v", err)
	}
	manager, err := agentdef.FromYAML(managerData)
	if err != nil {
		t.Fatalf("decode manager: %v", err)
	}
	if len(manager.ManagedAgents) != 1 || manager.ManagedAgents[0].File != filepath.ToSlash(rolePath) {
		t.Errorf("managed_agents = %+v", manager.ManagedAgents)
	}

	if got := len(events.ofType(EventAgentWritten)); got != 2 {
		t.Errorf("agent.written events = %d, want 2", got)
	}
	linked := events.ofType(EventManagerLinked)
	if len(linked) != 1 {
		t.Fatalf("manager.linked events = %d, want 1", len(linked))
	}
	data := linked[0].Data.(ManagerLinkedEvent)
	if data.Name != "HR_Manager_v1" || len(data.Roles) != 1 {
		t.Errorf("manager.linked data = %+v", data)
	}
	if got := len(events.ofType(EventNormalizeFallback)); got != 0 {
		t.Errorf("normalize.fallback events = %d, want 0", got)
	}
	completed := events.ofType(EventNormalizeCompleted)
	if len(completed) != 1 {
		t.Fatalf("normalize.completed events = %d, want 1", len(completed))
	}
	if completed[0].RunID != res.RunID() || completed[0].RunID == "" {
		t.Errorf("event run id = %q, result run id = %q", completed[0].RunID, res.RunID())
	}
}

func TestSDK_Normalize_Fallback(t *testing.T) {
	s, root := newTestSDK(t, WithKeepRaw(true))
	events := &eventLog{}
	s.OnEvent(EventNormalizeFallback, events.record)

	raw := `garbage {"workflow_yaml": "flow_name: salvaged\n", "yaml": "name: Writer_Role\n" trailing`
	res, err := s.Normalize(context.Background(), raw, filepath.Join(root, "out"))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !res.Fallback() {
		t.Fatal("expected fallback result")
	}
	if res.Files.RawPath == "" {
		t.Error("raw text not kept")
	}

	fallback := events.ofType(EventNormalizeFallback)
	if len(fallback) != 1 {
		t.Fatalf("normalize.fallback events = %d, want 1", len(fallback))
	}
	if data := fallback[0].Data.(FallbackEvent); data.RawLength != len(raw) {
		t.Errorf("raw length = %d, want %d", data.RawLength, len(raw))
	}
}

func TestSDK_Normalize_EmptyOutDir(t *testing.T) {
	s, _ := newTestSDK(t)

	_, err := s.Normalize(context.Background(), "{}", " ")
	var vErr *normerrors.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("Normalize() error = %v, want *errors.ValidationError", err)
	}
}

func TestSDK_Normalize_PersistenceError(t *testing.T) {
	s, root := newTestSDK(t)
	blocker := filepath.Join(root, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := s.Normalize(context.Background(), wrappedResponse(t), filepath.Join(blocker, "out"))
	if !normerrors.IsPersistence(err) {
		t.Fatalf("Normalize() error = %v, want persistence error", err)
	}
	if res == nil || res.Normalized == nil || len(res.Normalized.Agents) != 2 {
		t.Errorf("result should still carry the normalized agents")
	}
}

func TestSDK_NormalizeFile(t *testing.T) {
	root := t.TempDir()
	s, _ := newTestSDK(t, WithInbox(filepath.Join(root, "inbox"), filepath.Join(root, "output")))

	path := filepath.Join(root, "hr_usecase.json")
	if err := os.WriteFile(path, []byte(wrappedResponse(t)), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := s.NormalizeFile(context.Background(), path, "")
	if err != nil {
		t.Fatalf("NormalizeFile() error = %v", err)
	}
	if want := filepath.Join(root, "output", "hr_usecase"); res.OutDir != want {
		t.Errorf("OutDir = %q, want %q", res.OutDir, want)
	}
	if _, err := os.Stat(filepath.Join(res.OutDir, "workflow.yaml")); err != nil {
		t.Errorf("workflow not written: %v", err)
	}

	if _, err := s.NormalizeFile(context.Background(), filepath.Join(root, "missing.json"), ""); !normerrors.IsPersistence(err) {
		t.Errorf("NormalizeFile(missing) error = %v, want persistence error", err)
	}
}

func TestSDK_Watch(t *testing.T) {
	root := t.TempDir()
	inboxDir := filepath.Join(root, "inbox")
	if err := os.Mkdir(inboxDir, 0o755); err != nil {
		t.Fatal(err)
	}
	outRoot := filepath.Join(root, "output")
	s, _ := newTestSDK(t, WithInbox(inboxDir, outRoot), WithInboxDebounce(50*time.Millisecond))

	completed := make(chan *Event, 4)
	s.OnEvent(EventNormalizeCompleted, func(_ context.Context, e *Event) {
		completed <- e
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(inboxDir, "hr_usecase.json"), []byte(wrappedResponse(t)), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-completed:
		data := e.Data.(CompletedEvent)
		if data.OutDir != filepath.Join(outRoot, "hr_usecase") {
			t.Errorf("out dir = %q", data.OutDir)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for inbox file to be normalized")
	}

	if _, err := os.Stat(filepath.Join(outRoot, "hr_usecase", "HR_Manager_v1.yaml")); err != nil {
		t.Errorf("manager not written: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

func TestSDK_Watch_NotConfigured(t *testing.T) {
	s, _ := newTestSDK(t)
	if err := s.Watch(context.Background()); !errors.Is(err, ErrInboxNotConfigured) {
		t.Errorf("Watch() error = %v, want ErrInboxNotConfigured", err)
	}
}

func TestSDK_OnEvent(t *testing.T) {
	s, _ := newTestSDK(t)

	called := false
	s.OnEvent(EventNormalizeCompleted, func(ctx context.Context, e *Event) {
		called = true
	})

	s.emitEvent(context.Background(), &Event{Type: EventNormalizeCompleted})

	if !called {
		t.Error("event handler was not called")
	}
}

func TestSDK_OnEvent_PanicRecovery(t *testing.T) {
	s, _ := newTestSDK(t)

	s.OnEvent(EventAgentWritten, func(ctx context.Context, e *Event) {
		panic("test panic")
	})

	called := false
	s.OnEvent(EventAgentWritten, func(ctx context.Context, e *Event) {
		called = true
	})

	s.emitEvent(context.Background(), &Event{Type: EventAgentWritten})

	if !called {
		t.Error("second handler was not called after first handler panicked")
	}
}

func TestSDK_TracerProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	s, root := newTestSDK(t, WithTracerProvider(tp))

	if _, err := s.Normalize(context.Background(), wrappedResponse(t), filepath.Join(root, "out")); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "normalize.process") || !strings.Contains(joined, "normalize.write") {
		t.Errorf("spans = %v", names)
	}
}

func TestResult_NilSafe(t *testing.T) {
	var r *Result
	if r.RunID() != "" || r.Fallback() {
		t.Error("nil result should be empty")
	}
	r = &Result{Normalized: &normalize.Result{RunID: "abc"}}
	if r.RunID() != "abc" || r.Fallback() {
		t.Errorf("RunID() = %q, Fallback() = %v", r.RunID(), r.Fallback())
	}
}

func TestAgentSchema(t *testing.T) {
	var schema map[string]any
	if err := json.Unmarshal(AgentSchema(), &schema); err != nil {
		t.Fatalf("AgentSchema() is not valid JSON: %v", err)
	}
	if schema["title"] == "" {
		t.Error("schema has no title")
	}
}
