// Package jq compiles and runs the jq expressions used to select the
// payload out of a decoded upstream envelope.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds a single query run (1 second)
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the largest envelope a query is run against (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Query is a compiled jq expression.
type Query struct {
	expression   string
	code         *gojq.Code
	timeout      time.Duration
	maxInputSize int64
}

// Compile parses and compiles expression. An empty expression is rejected;
// callers skip selection instead of compiling one.
func Compile(expression string) (*Query, error) {
	if expression == "" {
		return nil, fmt.Errorf("empty jq expression")
	}

	parsed, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	return &Query{
		expression:   expression,
		code:         code,
		timeout:      DefaultTimeout,
		maxInputSize: DefaultMaxInputSize,
	}, nil
}

// Validate reports whether expression compiles. The empty expression is valid.
func Validate(expression string) error {
	if expression == "" {
		return nil
	}
	if _, err := Compile(expression); err != nil {
		return fmt.Errorf("invalid jq expression: %w", err)
	}
	return nil
}

// String returns the source expression.
func (q *Query) String() string {
	return q.expression
}

// Run evaluates the query against data. A single result is returned as-is,
// several results are returned as a list, and no result yields nil.
// Evaluation stops when ctx is cancelled or the query timeout elapses.
func (q *Query) Run(ctx context.Context, data any) (any, error) {
	if err := q.validateInputSize(data); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	iter := q.code.RunWithContext(execCtx, data)

	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if execCtx.Err() != nil {
				return nil, fmt.Errorf("execution stopped after %v: %w", q.timeout, execCtx.Err())
			}
			return nil, err
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// validateInputSize estimates the input size by marshaling it to JSON.
func (q *Query) validateInputSize(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if int64(len(jsonData)) > q.maxInputSize {
		return fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)",
			len(jsonData), q.maxInputSize)
	}

	return nil
}
