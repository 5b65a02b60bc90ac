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

/*
Package normalize recovers a workflow definition and its agent definitions
from an unreliable upstream response.

Responses arrive as strict JSON, JSON with raw control characters inside
strings, Python-style dict literals, JSON strings that encode JSON, or
text that merely contains fragments of any of these. Processing runs in
four stages:

 1. Parse: strategies are tried in order (direct, escape_fix, literal) and
    the first one that yields a mapping wins.
 2. Unwrap: payloads nested under response, input, output, yaml_schema or
    workflow_definition are descended into, DefaultMaxUnwraps layers deep
    unless configured otherwise.
 3. Fallback: when no usable mapping emerges, workflow_yaml and yaml string
    values are salvaged from the raw text with linear-time patterns.
 4. Canonicalize: every agent block is mapped onto the canonical schema
    from package agentdef.

Malformed input is never an error. Process always returns a Result; when
nothing structured was recovered the Result carries the raw text.

# Usage

	engine, err := normalize.NewEngine(
		normalize.WithLogger(logger),
		normalize.WithPayloadQuery(".choices[0].message.content"),
	)
	if err != nil {
		return err
	}

	res := engine.Process(ctx, body)
	if res.IsFallback() {
		logger.Warn("salvaged partial response", "agents", len(res.Agents))
	}

Persistence is delegated to a ResultWriter, see package repository.
*/
package normalize
