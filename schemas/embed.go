// Package schemas provides access to embedded JSON schemas.
package schemas

import (
	_ "embed"
)

// The agent schema describes the canonical agent files agentnorm writes and
// enables IDE autocompletion and validation of hand-edited agents.
//
//go:embed agent.schema.json
var agentSchema []byte

// GetAgentSchema returns the embedded canonical agent JSON Schema as raw bytes.
func GetAgentSchema() []byte {
	return agentSchema
}

// GetAgentSchemaString returns the embedded canonical agent JSON Schema as a string.
func GetAgentSchemaString() string {
	return string(agentSchema)
}
