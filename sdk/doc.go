// Package sdk provides an embeddable library that turns raw LLM responses
// describing a multi-agent workflow into canonical files on disk.
//
// A response is expected to carry a workflow definition and a list of agent
// definitions, but it often arrives double-encoded, wrapped in envelope keys
// such as "output" or "result", fenced in markdown, or with raw newlines
// inside JSON strings. The SDK recovers what it can, maps every agent onto
// one canonical schema, and writes the workflow and agent files.
//
// # Quick Start
//
//	import agentnorm "github.com/tombee/agentnorm/sdk"
//
//	func main() {
//		s, err := agentnorm.New(
//			agentnorm.WithRolesDir("agents/roles"),
//		)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer s.Close()
//
//		res, err := s.Normalize(context.Background(), responseText, "output/hr_usecase")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		log.Printf("strategy: %s", res.Normalized.Strategy)
//		log.Printf("agents written: %d", len(res.Files.AgentPaths))
//	}
//
// # Output Layout
//
// For an output directory out and roles directory roles:
//   - out/workflow.yaml holds the workflow text verbatim
//   - out/<Agent_Name>.yaml holds each canonical agent
//   - roles/<Role_Name>.yaml mirrors every role
//   - every manager written in the same call lists the mirrored roles under
//     managed_agents
//
// Agents whose name contains "manager" or "mgr" are managers; all others
// are roles.
//
// # Inbox
//
// Watch observes a directory and normalizes each response file dropped into
// it into <out_root>/<file name without extension>:
//
//	s, _ := agentnorm.New(agentnorm.WithInbox("inbox", "output"))
//	if err := s.Watch(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Events
//
// OnEvent handlers receive normalize.completed, normalize.fallback,
// agent.written and manager.linked events after each successful write.
//
// # Configuration
//
// New uses built-in defaults and reads neither files nor environment
// variables. WithConfigFile and WithEnvironment load the YAML config and
// AGENTNORM_* overrides instead.
package sdk
