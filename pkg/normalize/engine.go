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

package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/tombee/agentnorm/internal/jq"
	"github.com/tombee/agentnorm/internal/log"
	"github.com/tombee/agentnorm/pkg/agentdef"
)

const tracerName = "github.com/tombee/agentnorm/pkg/normalize"

// MaxUnwrapsLimit is the largest accepted unwrap bound.
const MaxUnwrapsLimit = 32

// ResultWriter persists a normalized result under outDir.
type ResultWriter interface {
	WriteResult(ctx context.Context, res *Result, outDir string) error
}

// Engine turns raw upstream responses into normalized results. An Engine
// holds no per-call state and may be shared.
type Engine struct {
	maxUnwraps int
	canon      *agentdef.Canonicalizer
	selector   *jq.Query
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		e.logger = logger
		return nil
	}
}

// WithMaxUnwraps bounds envelope unwrapping and double-encoding decodes.
func WithMaxUnwraps(n int) Option {
	return func(e *Engine) error {
		if n < 1 || n > MaxUnwrapsLimit {
			return fmt.Errorf("max unwraps must be between 1 and %d, got %d", MaxUnwrapsLimit, n)
		}
		e.maxUnwraps = n
		return nil
	}
}

// WithLLMDefaults sets the llm_config defaults used when canonicalizing.
func WithLLMDefaults(defaults agentdef.LLMDefaults) Option {
	return func(e *Engine) error {
		e.canon = agentdef.NewCanonicalizer(defaults)
		return nil
	}
}

// WithPayloadQuery selects the payload out of a decoded envelope with a jq
// expression before unwrapping, e.g. ".choices[0].message.content".
// An empty expression disables selection.
func WithPayloadQuery(expression string) Option {
	return func(e *Engine) error {
		if expression == "" {
			e.selector = nil
			return nil
		}
		q, err := jq.Compile(expression)
		if err != nil {
			return fmt.Errorf("payload query: %w", err)
		}
		e.selector = q
		return nil
	}
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) error {
		if tp == nil {
			return fmt.Errorf("tracer provider cannot be nil")
		}
		e.tracer = tp.Tracer(tracerName)
		return nil
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		maxUnwraps: DefaultMaxUnwraps,
		canon:      agentdef.NewCanonicalizer(agentdef.LLMDefaults{}),
		logger:     log.Discard(),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	return e, nil
}

// Process normalizes raw without touching the filesystem. It never fails:
// input nothing can be recovered from still yields a Result carrying the
// raw text.
//
// raw may be a string, []byte, json.RawMessage, map[string]any or nil.
// Other values are marshalled to JSON first. raw is never modified.
func (e *Engine) Process(ctx context.Context, raw any) *Result {
	res := &Result{RunID: uuid.NewString(), Strategy: StrategyNone}

	ctx, span := e.tracer.Start(ctx, "normalize.process",
		trace.WithAttributes(attribute.String("run_id", res.RunID)))
	defer span.End()

	logger := log.WithRun(e.logger, res.RunID)
	c := newCascade(e.maxUnwraps, logger)

	text, envelope := coerce(raw)
	if envelope != nil {
		res.Strategy = StrategyStructured
	} else {
		envelope, res.Strategy = c.parse(text)
	}

	if envelope != nil && e.selector != nil {
		envelope = e.selectPayload(ctx, c, envelope, logger)
	}

	var scan []string
	if envelope != nil {
		v, n := unwrap(envelope, e.maxUnwraps, c)
		res.Unwraps = n
		observeUnwrapDepth(n)

		switch v.Kind {
		case KindMapping:
			e.build(res, v.Mapping)
		case KindText:
			scan = append(scan, v.Text)
		}
	}

	if res.Workflow == nil && len(res.Agents) == 0 {
		e.fallback(res, text, scan)
		recordFallback()
		logger.Warn("structured parse failed, used regex fallback",
			slog.String(log.StrategyKey, string(res.Strategy)),
			slog.Int("agents", len(res.Agents)),
			slog.Bool("workflow", res.Workflow != nil),
			slog.String("excerpt", log.Excerpt(text, 200)))
	}

	span.SetAttributes(
		attribute.String("strategy", string(res.Strategy)),
		attribute.Bool("fallback", res.IsFallback()),
		attribute.Int("agents", len(res.Agents)),
		attribute.Int("unwraps", res.Unwraps),
	)
	logger.Debug("normalized response",
		slog.String(log.StrategyKey, string(res.Strategy)),
		slog.Int("unwraps", res.Unwraps),
		slog.Int("agents", len(res.Agents)),
		slog.Bool("fallback", res.IsFallback()))

	return res
}

// Normalize processes raw and hands the result to w for persistence under
// outDir. Malformed input never fails; only the writer can return an error.
// A nil writer skips persistence.
func (e *Engine) Normalize(ctx context.Context, raw any, outDir string, w ResultWriter) (*Result, error) {
	res := e.Process(ctx, raw)
	if w == nil {
		return res, nil
	}

	ctx, span := e.tracer.Start(ctx, "normalize.write",
		trace.WithAttributes(
			attribute.String("run_id", res.RunID),
			attribute.String("out_dir", outDir),
		))
	defer span.End()

	if err := w.WriteResult(ctx, res, outDir); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	return res, nil
}

// selectPayload applies the payload query. A mapping result replaces the
// envelope, a string result is parsed, anything else leaves it unchanged.
func (e *Engine) selectPayload(ctx context.Context, c *cascade, envelope map[string]any, logger *slog.Logger) map[string]any {
	out, err := e.selector.Run(ctx, envelope)
	if err != nil {
		logger.Debug("payload query failed", slog.String("query", e.selector.String()), log.Error(err))
		return envelope
	}

	switch t := out.(type) {
	case map[string]any:
		if m, ok := agentdef.NormalizeValue(t).(map[string]any); ok {
			return m
		}
	case string:
		if m, _ := c.parse(t); m != nil {
			return m
		}
	}
	logger.Debug("payload query selected nothing usable", slog.String("query", e.selector.String()))
	return envelope
}

// build fills res from a payload mapping.
func (e *Engine) build(res *Result, m map[string]any) {
	res.Workflow = workflowFrom(m)
	res.Agents = e.agentsFrom(m["agents"])
}

// fallback fills res from regex salvage of the scanned texts.
func (e *Engine) fallback(res *Result, text string, scan []string) {
	fb := ExtractFallback(text, scan...)
	res.RawString = &fb.RawString
	res.Workflow = nil
	res.Agents = nil

	if fb.WorkflowYAML != nil && strings.TrimSpace(*fb.WorkflowYAML) != "" {
		var explicit string
		if fb.WorkflowName != nil {
			explicit = *fb.WorkflowName
		}
		res.Workflow = &Workflow{Name: workflowName(explicit, *fb.WorkflowYAML), YAML: *fb.WorkflowYAML}
	}
	for i, block := range fb.Agents {
		res.Agents = append(res.Agents, e.resolveAgent(block, fmt.Sprintf("agent_partial_%d", i+1)))
	}
}

// agentsFrom accepts a list of agent blocks, a mapping of name to block,
// or YAML text holding either.
func (e *Engine) agentsFrom(v any) []AgentDefinition {
	switch t := v.(type) {
	case []any:
		agents := make([]AgentDefinition, 0, len(t))
		for _, block := range t {
			if block == nil {
				continue
			}
			agents = append(agents, e.resolveAgent(block, ""))
		}
		return agents
	case map[string]any:
		names := make([]string, 0, len(t))
		for name := range t {
			names = append(names, name)
		}
		sort.Strings(names)

		agents := make([]AgentDefinition, 0, len(t))
		for _, name := range names {
			agents = append(agents, e.resolveAgent(t[name], name))
		}
		return agents
	case string:
		var decoded any
		if err := yaml.Unmarshal([]byte(agentdef.StripFence(t)), &decoded); err != nil {
			return nil
		}
		switch d := agentdef.NormalizeValue(decoded).(type) {
		case []any, map[string]any:
			return e.agentsFrom(d)
		}
	}
	return nil
}

func (e *Engine) resolveAgent(block any, defaultName string) AgentDefinition {
	fields, raw := agentdef.Resolve(block)
	if !hasName(fields) && defaultName != "" {
		fields["name"] = defaultName
	}
	agent := e.canon.Canonicalize(fields)
	return AgentDefinition{
		Name:      agent.Name,
		Kind:      agent.Kind(),
		RawText:   raw,
		Canonical: agent,
	}
}

func hasName(fields map[string]any) bool {
	switch v := fields["name"].(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}

// workflowFrom reads workflow_yaml and workflow_name from a payload.
// Text is kept verbatim, even when blank; any other value is rendered as
// YAML.
func workflowFrom(m map[string]any) *Workflow {
	var text string
	switch v := m["workflow_yaml"].(type) {
	case nil:
		return nil
	case string:
		text = v
	default:
		data, err := encodeYAML(v)
		if err != nil {
			return nil
		}
		text = string(data)
	}

	var explicit string
	if name, ok := m["workflow_name"]; ok && name != nil {
		explicit = fmt.Sprint(name)
	}
	return &Workflow{Name: workflowName(explicit, text), YAML: text}
}

// workflowName prefers an explicit name, then a flow_name or name key in
// the workflow YAML itself.
func workflowName(explicit, text string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	fields := agentdef.DecodeFields(text)
	for _, key := range []string{"flow_name", "name"} {
		if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return UnnamedWorkflow
}

// coerce splits raw into its text form and, for structured input, a
// private copy of the mapping.
func coerce(raw any) (string, map[string]any) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case []byte:
		return string(v), nil
	case map[string]any:
		m, _ := agentdef.NormalizeValue(v).(map[string]any)
		if m == nil {
			m = map[string]any{}
		}
		text, err := encodeJSON(m)
		if err != nil {
			return fmt.Sprint(m), m
		}
		return text, m
	default:
		text, err := encodeJSON(v)
		if err != nil {
			return fmt.Sprint(v), nil
		}
		return text, nil
	}
}

// encodeJSON marshals v without HTML escaping and without the trailing
// newline json.Encoder adds.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
