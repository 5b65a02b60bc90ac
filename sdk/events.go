package sdk

import (
	"context"
	"time"

	"github.com/tombee/agentnorm/pkg/agentdef"
	"github.com/tombee/agentnorm/pkg/normalize"
)

// EventType identifies the type of event.
type EventType string

const (
	EventNormalizeCompleted EventType = "normalize.completed"
	EventNormalizeFallback  EventType = "normalize.fallback" // Regex salvage was used
	EventAgentWritten       EventType = "agent.written"
	EventManagerLinked      EventType = "manager.linked"
)

// Event represents a normalization event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RunID     string
	Data      any // Type depends on EventType
}

// EventHandler processes events.
// Handlers are called synchronously after the result is written.
// If a handler panics, the panic is recovered and logged.
type EventHandler func(ctx context.Context, event *Event)

// CompletedEvent is the Data for EventNormalizeCompleted.
type CompletedEvent struct {
	Strategy normalize.Strategy
	Unwraps  int
	Agents   int
	Fallback bool
	OutDir   string
}

// FallbackEvent is the Data for EventNormalizeFallback.
type FallbackEvent struct {
	WorkflowSalvaged bool
	AgentsSalvaged   int
	RawLength        int
}

// AgentWrittenEvent is the Data for EventAgentWritten.
type AgentWrittenEvent struct {
	Name string
	Kind agentdef.Kind
	Path string
}

// ManagerLinkedEvent is the Data for EventManagerLinked.
type ManagerLinkedEvent struct {
	Name  string
	Path  string
	Roles []string
}
