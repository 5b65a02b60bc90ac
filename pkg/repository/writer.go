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

// Package repository persists normalized results: the workflow file, one
// canonical file per agent, a shared mirror of role files, and the
// managed_agents links of manager files.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/agentnorm/internal/log"
	"github.com/tombee/agentnorm/pkg/agentdef"
	normerrors "github.com/tombee/agentnorm/pkg/errors"
	"github.com/tombee/agentnorm/pkg/normalize"
)

const (
	// DefaultRolesDir is the shared roles directory.
	DefaultRolesDir = "agents/roles"

	// DefaultWorkflowFile is the workflow file name inside the output directory.
	DefaultWorkflowFile = "workflow.yaml"

	// RawFile holds the raw response text when KeepRaw is enabled.
	RawFile = "raw.txt"

	dirPerm = 0755
)

// Manifest lists the files one Write produced.
type Manifest struct {
	WorkflowPath    string
	AgentPaths      []string
	RolePaths       []string
	PatchedManagers []string
	RawPath         string
}

// Writer writes normalized results to disk. All writes overwrite.
type Writer struct {
	rolesDir     string
	workflowFile string
	keepRaw      bool
	logger       *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithWorkflowFile sets the workflow file name.
func WithWorkflowFile(name string) Option {
	return func(w *Writer) {
		if name != "" {
			w.workflowFile = name
		}
	}
}

// WithKeepRaw also writes the raw response text when regex salvage was used.
func WithKeepRaw(keep bool) Option {
	return func(w *Writer) {
		w.keepRaw = keep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a Writer that mirrors role files into rolesDir. An empty
// rolesDir means DefaultRolesDir.
func New(rolesDir string, opts ...Option) *Writer {
	if rolesDir == "" {
		rolesDir = DefaultRolesDir
	}
	w := &Writer{
		rolesDir:     rolesDir,
		workflowFile: DefaultWorkflowFile,
		logger:       log.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RolesDir returns the shared roles directory.
func (w *Writer) RolesDir() string {
	return w.rolesDir
}

// WriteResult implements normalize.ResultWriter.
func (w *Writer) WriteResult(ctx context.Context, res *normalize.Result, outDir string) error {
	_, err := w.Write(ctx, res, outDir)
	return err
}

// Write persists res under outDir, creating it if needed.
//
// When the call writes at least one role, every manager written in the
// same call is rewritten with managed_agents pointing at the shared role
// files, and res is updated to match. Any filesystem failure is returned
// as a *errors.PersistenceError.
func (w *Writer) Write(ctx context.Context, res *normalize.Result, outDir string) (*Manifest, error) {
	manifest := &Manifest{}
	if res == nil {
		return manifest, nil
	}
	logger := log.WithRun(w.logger, res.RunID)

	if err := os.MkdirAll(outDir, dirPerm); err != nil {
		return manifest, normerrors.Persistence("mkdir", outDir, err)
	}

	if res.Workflow != nil {
		path := filepath.Join(outDir, w.workflowFile)
		if err := writeFileAtomic(path, []byte(res.Workflow.YAML)); err != nil {
			return manifest, normerrors.Persistence("write", path, err)
		}
		manifest.WorkflowPath = path
		logger.Info("wrote workflow", slog.String(log.PathKey, path))
	}

	if w.keepRaw && res.RawString != nil {
		path := filepath.Join(outDir, RawFile)
		if err := writeFileAtomic(path, []byte(*res.RawString)); err != nil {
			return manifest, normerrors.Persistence("write", path, err)
		}
		manifest.RawPath = path
	}

	var (
		managers []int
		links    []agentdef.ManagedAgent
		linked   = map[string]bool{}
	)
	for i := range res.Agents {
		agent := &res.Agents[i]
		data, err := agent.Canonical.Encode()
		if err != nil {
			return manifest, normerrors.Persistence("encode", agent.Name, err)
		}

		path := filepath.Join(outDir, agentdef.FileName(agent.Name))
		if err := writeFileAtomic(path, data); err != nil {
			return manifest, normerrors.Persistence("write", path, err)
		}
		manifest.AgentPaths = append(manifest.AgentPaths, path)
		recordAgentWritten(agent.Kind)
		logger.Info("wrote agent",
			slog.String(log.AgentKey, agent.Name),
			slog.String(log.KindKey, string(agent.Kind)),
			slog.String(log.PathKey, path))

		if agent.Kind == agentdef.KindManager {
			managers = append(managers, i)
			continue
		}

		rolePath, err := w.mirrorRole(agent.Name, data)
		if err != nil {
			return manifest, err
		}
		manifest.RolePaths = append(manifest.RolePaths, rolePath)

		ref := filepath.ToSlash(rolePath)
		if !linked[ref] {
			linked[ref] = true
			links = append(links, agentdef.ManagedAgent{
				File:             ref,
				UsageDescription: usageDescription(agent.Name, agent.Canonical.Description),
			})
		}
	}

	if len(links) == 0 {
		return manifest, nil
	}

	for _, i := range managers {
		agent := &res.Agents[i]
		path := filepath.Join(outDir, agentdef.FileName(agent.Name))
		patched, err := patchManager(ctx, path, links)
		if err != nil {
			return manifest, err
		}
		agent.Canonical = patched
		manifest.PatchedManagers = append(manifest.PatchedManagers, path)
		logger.Info("linked manager to roles",
			slog.String(log.AgentKey, agent.Name),
			slog.Int("roles", len(links)),
			slog.String(log.PathKey, path))
	}

	return manifest, nil
}

// mirrorRole copies a role's canonical file into the shared roles directory.
func (w *Writer) mirrorRole(name string, data []byte) (string, error) {
	if err := os.MkdirAll(w.rolesDir, dirPerm); err != nil {
		return "", normerrors.Persistence("mkdir", w.rolesDir, err)
	}
	path := filepath.Join(w.rolesDir, agentdef.FileName(name))
	if err := writeFileAtomic(path, data); err != nil {
		return "", normerrors.Persistence("write", path, err)
	}
	return path, nil
}

// patchManager rewrites managed_agents in the manager file at path. The
// read-modify-write runs under an exclusive lock.
func patchManager(ctx context.Context, path string, links []agentdef.ManagedAgent) (agentdef.Agent, error) {
	fl, err := acquireLock(ctx, path)
	if err != nil {
		return agentdef.Agent{}, normerrors.Persistence("lock", path, err)
	}
	defer fl.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return agentdef.Agent{}, normerrors.Persistence("read", path, err)
	}

	manager, err := agentdef.FromYAML(data)
	if err != nil {
		return agentdef.Agent{}, normerrors.Persistence("decode", path, err)
	}
	manager.ManagedAgents = append([]agentdef.ManagedAgent(nil), links...)

	out, err := manager.Encode()
	if err != nil {
		return agentdef.Agent{}, normerrors.Persistence("encode", path, err)
	}
	if err := writeFileAtomic(path, out); err != nil {
		return agentdef.Agent{}, normerrors.Persistence("write", path, err)
	}
	return manager, nil
}

// usageDescription derives the managed_agents blurb for a role.
func usageDescription(name, description string) string {
	task := strings.TrimRight(strings.TrimSpace(description), ". ")
	if task == "" {
		task = "role-specific tasks"
	}
	return fmt.Sprintf("%s supports the manager by handling %s.", name, task)
}
