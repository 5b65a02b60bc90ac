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

// Package config loads agentnorm configuration from an optional YAML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/tombee/agentnorm/internal/jq"
	"github.com/tombee/agentnorm/internal/log"
	"github.com/tombee/agentnorm/pkg/agentdef"
	normerrors "github.com/tombee/agentnorm/pkg/errors"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

const (
	// DefaultMaxUnwraps is the default envelope unwrap bound.
	DefaultMaxUnwraps = 5

	// MaxUnwrapsLimit is the largest accepted unwrap bound.
	MaxUnwrapsLimit = 32

	// DefaultInboxDebounce is how long an inbox file must be quiet before it is read.
	DefaultInboxDebounce = 500 * time.Millisecond
)

// Config is the complete agentnorm configuration.
type Config struct {
	// RolesDir is the shared directory role files are mirrored into.
	// Environment: AGENTNORM_ROLES_DIR
	// Default: agents/roles
	RolesDir string `yaml:"roles_dir"`

	// WorkflowFile is the workflow file name inside each output directory.
	// Environment: AGENTNORM_WORKFLOW_FILE
	// Default: workflow.yaml
	WorkflowFile string `yaml:"workflow_file"`

	// MaxUnwraps bounds envelope unwrapping and re-decoding of
	// double-encoded payloads.
	// Environment: AGENTNORM_MAX_UNWRAPS
	// Default: 5
	MaxUnwraps int `yaml:"max_unwraps"`

	// KeepRaw writes the raw response next to salvaged results.
	// Environment: AGENTNORM_KEEP_RAW
	// Default: false
	KeepRaw bool `yaml:"keep_raw"`

	// PayloadQuery is a jq expression selecting the payload out of each
	// decoded response before unwrapping. Empty disables selection.
	// Environment: AGENTNORM_PAYLOAD_QUERY
	PayloadQuery string `yaml:"payload_query"`

	// LLMDefaults fill llm_config gaps of canonical agents.
	LLMDefaults agentdef.LLMDefaults `yaml:"llm_defaults"`

	Log   LogConfig   `yaml:"log"`
	Inbox InboxConfig `yaml:"inbox"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// InboxConfig configures the file-drop inbox.
type InboxConfig struct {
	// Dir is the watched directory. Empty disables the inbox.
	// Environment: AGENTNORM_INBOX_DIR
	Dir string `yaml:"dir"`

	// OutRoot receives one output directory per dropped file.
	// Environment: AGENTNORM_OUT_ROOT
	// Default: output
	OutRoot string `yaml:"out_root"`

	// Include and Exclude are doublestar patterns matched against the
	// dropped file's path and base name.
	// Default include: *.json, *.txt
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// Debounce is the quiet period before a file is read.
	// Environment: AGENTNORM_INBOX_DEBOUNCE
	// Default: 500ms
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		RolesDir:     "agents/roles",
		WorkflowFile: "workflow.yaml",
		MaxUnwraps:   DefaultMaxUnwraps,
		LLMDefaults:  agentdef.DefaultLLMDefaults(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Inbox: InboxConfig{
			OutRoot:  "output",
			Include:  []string{"*.json", "*.txt"},
			Debounce: DefaultInboxDebounce,
		},
	}
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &normerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, &normerrors.ConfigError{
			Key:    "environment",
			Reason: "invalid environment override",
			Cause:  err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &normerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// LoadDefault loads the config file at the XDG location when it exists,
// and environment overrides either way.
func LoadDefault() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Load("")
	}
	if _, err := os.Stat(path); err != nil {
		return Load("")
	}
	return Load(path)
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.RolesDir == "" {
		c.RolesDir = defaults.RolesDir
	}
	if c.WorkflowFile == "" {
		c.WorkflowFile = defaults.WorkflowFile
	}
	if c.MaxUnwraps == 0 {
		c.MaxUnwraps = defaults.MaxUnwraps
	}

	if c.LLMDefaults.ProviderID == "" {
		c.LLMDefaults.ProviderID = defaults.LLMDefaults.ProviderID
	}
	if c.LLMDefaults.Model == "" {
		c.LLMDefaults.Model = defaults.LLMDefaults.Model
	}
	if c.LLMDefaults.Temperature == 0 {
		c.LLMDefaults.Temperature = defaults.LLMDefaults.Temperature
	}
	if c.LLMDefaults.TopP == 0 {
		c.LLMDefaults.TopP = defaults.LLMDefaults.TopP
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Inbox.OutRoot == "" {
		c.Inbox.OutRoot = defaults.Inbox.OutRoot
	}
	if len(c.Inbox.Include) == 0 {
		c.Inbox.Include = defaults.Inbox.Include
	}
	if c.Inbox.Debounce == 0 {
		c.Inbox.Debounce = defaults.Inbox.Debounce
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies environment overrides. Malformed numeric or
// duration values are reported rather than ignored.
func (c *Config) loadFromEnv() error {
	if val := os.Getenv("AGENTNORM_ROLES_DIR"); val != "" {
		c.RolesDir = val
	}
	if val := os.Getenv("AGENTNORM_WORKFLOW_FILE"); val != "" {
		c.WorkflowFile = val
	}
	if val := os.Getenv("AGENTNORM_MAX_UNWRAPS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("AGENTNORM_MAX_UNWRAPS: %w", err)
		}
		c.MaxUnwraps = n
	}
	if val := os.Getenv("AGENTNORM_KEEP_RAW"); val != "" {
		c.KeepRaw = val == "1" || strings.ToLower(val) == "true"
	}
	if val, ok := os.LookupEnv("AGENTNORM_PAYLOAD_QUERY"); ok {
		c.PayloadQuery = val
	}

	if val := os.Getenv("AGENTNORM_LLM_PROVIDER"); val != "" {
		c.LLMDefaults.ProviderID = val
	}
	if val := os.Getenv("AGENTNORM_LLM_MODEL"); val != "" {
		c.LLMDefaults.Model = val
	}

	// Log configuration
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	// Inbox configuration
	if val := os.Getenv("AGENTNORM_INBOX_DIR"); val != "" {
		c.Inbox.Dir = val
	}
	if val := os.Getenv("AGENTNORM_OUT_ROOT"); val != "" {
		c.Inbox.OutRoot = val
	}
	if val := os.Getenv("AGENTNORM_INBOX_DEBOUNCE"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("AGENTNORM_INBOX_DEBOUNCE: %w", err)
		}
		c.Inbox.Debounce = d
	}

	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.MaxUnwraps < 1 || c.MaxUnwraps > MaxUnwrapsLimit {
		errs = append(errs, fmt.Sprintf("max_unwraps must be between 1 and %d, got %d", MaxUnwrapsLimit, c.MaxUnwraps))
	}
	if c.WorkflowFile != filepath.Base(c.WorkflowFile) || strings.HasPrefix(c.WorkflowFile, ".") {
		errs = append(errs, fmt.Sprintf("workflow_file must be a plain file name, got %q", c.WorkflowFile))
	}
	if err := jq.Validate(c.PayloadQuery); err != nil {
		errs = append(errs, fmt.Sprintf("payload_query: %v", err))
	}

	if c.LLMDefaults.Temperature < 0 || c.LLMDefaults.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("llm_defaults.temperature must be between 0 and 2, got %v", c.LLMDefaults.Temperature))
	}
	if c.LLMDefaults.TopP < 0 || c.LLMDefaults.TopP > 1 {
		errs = append(errs, fmt.Sprintf("llm_defaults.top_p must be between 0 and 1, got %v", c.LLMDefaults.TopP))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Inbox.Debounce < 0 {
		errs = append(errs, fmt.Sprintf("inbox.debounce must be non-negative, got %v", c.Inbox.Debounce))
	}
	for _, pattern := range c.Inbox.Include {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Sprintf("inbox.include pattern %q is invalid", pattern))
		}
	}
	for _, pattern := range c.Inbox.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Sprintf("inbox.exclude pattern %q is invalid", pattern))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// LoggerConfig converts the log section into an internal/log configuration.
func (c *Config) LoggerConfig() *log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = log.Format(c.Log.Format)
	cfg.AddSource = c.Log.AddSource
	return cfg
}
