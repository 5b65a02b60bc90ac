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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tombee/agentnorm/internal/log"
	normerrors "github.com/tombee/agentnorm/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.RolesDir != "agents/roles" {
		t.Errorf("expected roles dir agents/roles, got %q", cfg.RolesDir)
	}
	if cfg.WorkflowFile != "workflow.yaml" {
		t.Errorf("expected workflow file workflow.yaml, got %q", cfg.WorkflowFile)
	}
	if cfg.MaxUnwraps != 5 {
		t.Errorf("expected max unwraps 5, got %d", cfg.MaxUnwraps)
	}
	if cfg.KeepRaw {
		t.Error("expected keep_raw to default to false")
	}

	// LLM defaults
	if cfg.LLMDefaults.ProviderID != "OpenAI" || cfg.LLMDefaults.Model != "gpt-4o-mini" {
		t.Errorf("unexpected llm defaults %+v", cfg.LLMDefaults)
	}
	if cfg.LLMDefaults.Temperature != 0.7 || cfg.LLMDefaults.TopP != 0.9 {
		t.Errorf("unexpected llm sampling defaults %+v", cfg.LLMDefaults)
	}

	// Inbox defaults
	if cfg.Inbox.Dir != "" {
		t.Errorf("expected inbox disabled by default, got %q", cfg.Inbox.Dir)
	}
	if cfg.Inbox.Debounce != 500*time.Millisecond {
		t.Errorf("expected debounce 500ms, got %v", cfg.Inbox.Debounce)
	}
	if len(cfg.Inbox.Include) != 2 {
		t.Errorf("expected two default include patterns, got %v", cfg.Inbox.Include)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
roles_dir: shared/roles
workflow_file: flow.yaml
max_unwraps: 8
keep_raw: true
payload_query: .choices[0].message.content
llm_defaults:
  model: gpt-4.1
log:
  level: debug
  format: text
inbox:
  dir: /var/spool/agentnorm
  exclude: ["*.partial"]
  debounce: 2s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RolesDir != "shared/roles" {
		t.Errorf("expected roles dir shared/roles, got %q", cfg.RolesDir)
	}
	if cfg.WorkflowFile != "flow.yaml" {
		t.Errorf("expected workflow file flow.yaml, got %q", cfg.WorkflowFile)
	}
	if cfg.MaxUnwraps != 8 {
		t.Errorf("expected max unwraps 8, got %d", cfg.MaxUnwraps)
	}
	if !cfg.KeepRaw {
		t.Error("expected keep_raw true")
	}
	if cfg.PayloadQuery != ".choices[0].message.content" {
		t.Errorf("unexpected payload query %q", cfg.PayloadQuery)
	}

	// Partial llm_defaults are completed from defaults
	if cfg.LLMDefaults.Model != "gpt-4.1" || cfg.LLMDefaults.ProviderID != "OpenAI" {
		t.Errorf("unexpected llm defaults %+v", cfg.LLMDefaults)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Inbox.Dir != "/var/spool/agentnorm" || cfg.Inbox.Debounce != 2*time.Second {
		t.Errorf("unexpected inbox config %+v", cfg.Inbox)
	}
	if cfg.Inbox.OutRoot != "output" {
		t.Errorf("expected default out root, got %q", cfg.Inbox.OutRoot)
	}
	if len(cfg.Inbox.Exclude) != 1 || cfg.Inbox.Exclude[0] != "*.partial" {
		t.Errorf("unexpected exclude patterns %v", cfg.Inbox.Exclude)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "roles_dir: from/file\nmax_unwraps: 3\n")

	t.Setenv("AGENTNORM_ROLES_DIR", "from/env")
	t.Setenv("AGENTNORM_MAX_UNWRAPS", "7")
	t.Setenv("AGENTNORM_KEEP_RAW", "true")
	t.Setenv("AGENTNORM_LLM_MODEL", "llama3")
	t.Setenv("AGENTNORM_INBOX_DIR", "/tmp/inbox")
	t.Setenv("AGENTNORM_INBOX_DEBOUNCE", "50ms")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_SOURCE", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RolesDir != "from/env" {
		t.Errorf("expected env roles dir, got %q", cfg.RolesDir)
	}
	if cfg.MaxUnwraps != 7 {
		t.Errorf("expected max unwraps 7, got %d", cfg.MaxUnwraps)
	}
	if !cfg.KeepRaw {
		t.Error("expected keep_raw from env")
	}
	if cfg.LLMDefaults.Model != "llama3" {
		t.Errorf("expected model llama3, got %q", cfg.LLMDefaults.Model)
	}
	if cfg.Inbox.Dir != "/tmp/inbox" || cfg.Inbox.Debounce != 50*time.Millisecond {
		t.Errorf("unexpected inbox config %+v", cfg.Inbox)
	}
	if cfg.Log.Level != "warn" || !cfg.Log.AddSource {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoad_EmptyPayloadQueryFromEnv(t *testing.T) {
	path := writeConfig(t, "payload_query: .response\n")
	t.Setenv("AGENTNORM_PAYLOAD_QUERY", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PayloadQuery != "" {
		t.Errorf("expected env to clear payload query, got %q", cfg.PayloadQuery)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		wantKey string
		wantMsg string
	}{
		{
			name:    "max unwraps too large",
			content: "max_unwraps: 64\n",
			wantKey: "validation",
			wantMsg: "max_unwraps",
		},
		{
			name:    "negative max unwraps",
			content: "max_unwraps: -1\n",
			wantKey: "validation",
			wantMsg: "max_unwraps",
		},
		{
			name:    "workflow file with directory",
			content: "workflow_file: ../escape.yaml\n",
			wantKey: "validation",
			wantMsg: "workflow_file",
		},
		{
			name:    "bad payload query",
			content: "payload_query: .[\n",
			wantKey: "validation",
			wantMsg: "payload_query",
		},
		{
			name:    "bad log level",
			content: "log:\n  level: loud\n",
			wantKey: "validation",
			wantMsg: "log.level",
		},
		{
			name:    "bad temperature",
			content: "llm_defaults:\n  temperature: 3.5\n",
			wantKey: "validation",
			wantMsg: "temperature",
		},
		{
			name:    "bad include pattern",
			content: "inbox:\n  include: [\"[unclosed\"]\n",
			wantKey: "validation",
			wantMsg: "inbox.include",
		},
		{
			name:    "malformed yaml",
			content: "roles_dir: [unclosed\n",
			wantKey: "config_file",
			wantMsg: "parse YAML",
		},
		{
			name:    "bad env number",
			content: "",
			env:     map[string]string{"AGENTNORM_MAX_UNWRAPS": "many"},
			wantKey: "environment",
			wantMsg: "AGENTNORM_MAX_UNWRAPS",
		},
		{
			name:    "bad env duration",
			content: "",
			env:     map[string]string{"AGENTNORM_INBOX_DEBOUNCE": "soon"},
			wantKey: "environment",
			wantMsg: "AGENTNORM_INBOX_DEBOUNCE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var cfgErr *normerrors.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %T", err)
			}
			if cfgErr.Key != tt.wantKey {
				t.Errorf("expected key %q, got %q", tt.wantKey, cfgErr.Key)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error to mention %q, got %v", tt.wantMsg, err)
			}
			if tt.wantKey == "validation" && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig in chain, got %v", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist cause, got %v", err)
	}
}

func TestLoad_HomeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.WriteFile(filepath.Join(home, "agentnorm.yaml"), []byte("roles_dir: home/roles\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("~/agentnorm.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RolesDir != "home/roles" {
		t.Errorf("expected roles dir from home config, got %q", cfg.RolesDir)
	}
}

func TestLoadDefault(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	// No file yet: defaults only
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if cfg.RolesDir != "agents/roles" {
		t.Errorf("expected default roles dir, got %q", cfg.RolesDir)
	}

	dir := filepath.Join(xdg, "agentnorm")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("roles_dir: xdg/roles\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err = LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if cfg.RolesDir != "xdg/roles" {
		t.Errorf("expected roles dir from XDG config, got %q", cfg.RolesDir)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath() error = %v", err)
	}
	if path != filepath.Join("/xdg", "agentnorm", "config.yaml") {
		t.Errorf("unexpected config path %q", path)
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := Default()
	cfg.Log = LogConfig{Level: "debug", Format: "text", AddSource: true}

	lc := cfg.LoggerConfig()
	if lc.Level != "debug" || lc.Format != log.FormatText || !lc.AddSource {
		t.Errorf("unexpected logger config %+v", lc)
	}
	if lc.Output == nil {
		t.Error("expected default output")
	}
}
