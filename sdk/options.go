package sdk

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/agentnorm/internal/config"
	"github.com/tombee/agentnorm/pkg/agentdef"
)

// Option is a functional option for SDK construction.
type Option func(*SDK) error

// WithConfigFile loads settings from a YAML config file, then applies
// AGENTNORM_* environment overrides. It replaces every setting made by
// earlier options; later options override the file.
//
// Example:
//
//	s, err := sdk.New(
//		sdk.WithConfigFile("~/.config/agentnorm/config.yaml"),
//		sdk.WithKeepRaw(true),
//	)
func WithConfigFile(path string) Option {
	return func(s *SDK) error {
		if path == "" {
			return fmt.Errorf("config path cannot be empty")
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		s.cfg = cfg
		s.fromConfig = true
		return nil
	}
}

// WithEnvironment loads the config file at the XDG location when it exists,
// then applies AGENTNORM_* environment overrides. Like WithConfigFile it
// replaces earlier settings.
func WithEnvironment() Option {
	return func(s *SDK) error {
		cfg, err := config.LoadDefault()
		if err != nil {
			return err
		}
		s.cfg = cfg
		s.fromConfig = true
		return nil
	}
}

// WithLogger sets a custom structured logger.
// If not set, logs go to slog.Default(), or to a logger built from the
// log section when a config file was loaded.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SDK) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used for
// normalize.process and normalize.write spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *SDK) error {
		if tp == nil {
			return fmt.Errorf("tracer provider cannot be nil")
		}
		s.tracerProvider = tp
		return nil
	}
}

// WithRolesDir sets the shared directory role files are mirrored into.
func WithRolesDir(dir string) Option {
	return func(s *SDK) error {
		if dir == "" {
			return fmt.Errorf("roles directory cannot be empty")
		}
		s.cfg.RolesDir = dir
		return nil
	}
}

// WithWorkflowFile sets the workflow file name written in each output
// directory.
func WithWorkflowFile(name string) Option {
	return func(s *SDK) error {
		s.cfg.WorkflowFile = name
		return nil
	}
}

// WithMaxUnwraps bounds how many wrapper layers are peeled off a response.
func WithMaxUnwraps(n int) Option {
	return func(s *SDK) error {
		s.cfg.MaxUnwraps = n
		return nil
	}
}

// WithKeepRaw also writes the raw response text when regex salvage was used.
func WithKeepRaw(keep bool) Option {
	return func(s *SDK) error {
		s.cfg.KeepRaw = keep
		return nil
	}
}

// WithPayloadQuery sets a jq expression that selects the payload from each
// parsed response before unwrapping.
//
// Example:
//
//	s, err := sdk.New(sdk.WithPayloadQuery(".choices[0].message.content"))
func WithPayloadQuery(expression string) Option {
	return func(s *SDK) error {
		s.cfg.PayloadQuery = expression
		return nil
	}
}

// WithLLMDefaults sets the llm_config values filled into agents that omit
// them. Zero fields keep the built-in defaults.
func WithLLMDefaults(defaults agentdef.LLMDefaults) Option {
	return func(s *SDK) error {
		s.cfg.LLMDefaults = defaults
		return nil
	}
}

// WithInbox configures the directory Watch observes and the root that
// receives one output directory per dropped file.
func WithInbox(dir, outRoot string) Option {
	return func(s *SDK) error {
		if dir == "" {
			return fmt.Errorf("inbox directory cannot be empty")
		}
		s.cfg.Inbox.Dir = dir
		if outRoot != "" {
			s.cfg.Inbox.OutRoot = outRoot
		}
		return nil
	}
}

// WithInboxPatterns sets the include and exclude patterns of the inbox.
// Nil slices keep the current patterns.
func WithInboxPatterns(include, exclude []string) Option {
	return func(s *SDK) error {
		if include != nil {
			s.cfg.Inbox.Include = include
		}
		if exclude != nil {
			s.cfg.Inbox.Exclude = exclude
		}
		return nil
	}
}

// WithInboxDebounce sets how long an inbox file must be quiet before it is
// read. Zero processes every event immediately.
func WithInboxDebounce(d time.Duration) Option {
	return func(s *SDK) error {
		s.cfg.Inbox.Debounce = d
		return nil
	}
}
