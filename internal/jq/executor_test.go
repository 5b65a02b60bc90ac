package jq

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_Run(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		data       any
		want       any
	}{
		{
			name:       "field extraction",
			expression: ".response",
			data:       map[string]any{"response": `{"agents": []}`},
			want:       `{"agents": []}`,
		},
		{
			name:       "chat completion content",
			expression: ".choices[0].message.content",
			data: map[string]any{"choices": []any{
				map[string]any{"message": map[string]any{"content": "hello"}},
			}},
			want: "hello",
		},
		{
			name:       "missing key",
			expression: ".nope",
			data:       map[string]any{"foo": "bar"},
			want:       nil,
		},
		{
			name:       "multiple results become a list",
			expression: ".[]",
			data:       []any{1, 2},
			want:       []any{1, 2},
		},
		{
			name:       "no results",
			expression: "empty",
			data:       map[string]any{},
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Compile(tt.expression)
			require.NoError(t, err)

			got, err := q.Run(context.Background(), tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuery_RunError(t *testing.T) {
	q, err := Compile(`error("boom")`)
	require.NoError(t, err)

	_, err = q.Run(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestQuery_RunCancelled(t *testing.T) {
	q, err := Compile("range(1e9)")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = q.Run(ctx, nil)
	assert.Error(t, err)
}

func TestQuery_InputTooLarge(t *testing.T) {
	q, err := Compile(".")
	require.NoError(t, err)
	q.maxInputSize = 16

	_, err = q.Run(context.Background(), map[string]any{"data": strings.Repeat("x", 64)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestCompile(t *testing.T) {
	_, err := Compile("")
	assert.Error(t, err)

	_, err = Compile(".[")
	assert.Error(t, err)

	q, err := Compile(".output")
	require.NoError(t, err)
	assert.Equal(t, ".output", q.String())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(""))
	assert.NoError(t, Validate(".response | fromjson"))
	assert.Error(t, Validate(".["))
	assert.Error(t, Validate("undefined_function(1)"))
}
