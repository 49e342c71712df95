// Package config loads the vspilot YAML configuration and applies defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pmacl/vspilot/internal/model"
)

// Default values for Config fields left unset in the YAML file.
const (
	DefaultWindowTitleRegex     = ".*Visual Studio Code.*"
	DefaultCommandPaletteAction = "GitHub Copilot Chat: Focus on Chat View"
	DefaultBusyDiffThreshold    = 100
	DefaultIntervalSec          = 1800
	DefaultShutdownTimeoutSec   = 30
	DefaultStateDir             = "state"
	DefaultPlanPath             = "plans/plan.yaml"
)

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Default returns a Config populated with default values.
func Default() model.Config {
	return model.Config{
		WindowTitleRegex: DefaultWindowTitleRegex,
		StateDir:         DefaultStateDir,
		PlanPath:         DefaultPlanPath,
		Adapter:          model.AdapterConfig{Type: "mcp"},
		Copilot:          model.CopilotConfig{CommandPaletteAction: DefaultCommandPaletteAction},
		Monitor:          model.MonitorConfig{BusyDiffThreshold: DefaultBusyDiffThreshold},
		Scheduler: model.SchedulerConfig{
			IntervalSec:        DefaultIntervalSec,
			ShutdownTimeoutSec: DefaultShutdownTimeoutSec,
		},
		Logging: model.LoggingConfig{Level: "info"},
	}
}

// Load reads and parses the config file at path. Missing fields receive
// defaults; a missing file is an error since repos_root has no usable default.
func Load(path string) (*model.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults restores defaults for fields explicitly set to zero values.
func applyDefaults(cfg *model.Config) {
	if cfg.WindowTitleRegex == "" {
		cfg.WindowTitleRegex = DefaultWindowTitleRegex
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.PlanPath == "" {
		cfg.PlanPath = DefaultPlanPath
	}
	if cfg.Adapter.Type == "" {
		cfg.Adapter.Type = "mcp"
	}
	if cfg.Copilot.CommandPaletteAction == "" {
		cfg.Copilot.CommandPaletteAction = DefaultCommandPaletteAction
	}
	if cfg.Monitor.BusyDiffThreshold <= 0 {
		cfg.Monitor.BusyDiffThreshold = DefaultBusyDiffThreshold
	}
	if cfg.Scheduler.IntervalSec <= 0 {
		cfg.Scheduler.IntervalSec = DefaultIntervalSec
	}
	if cfg.Scheduler.ShutdownTimeoutSec <= 0 {
		cfg.Scheduler.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks that the configuration is usable.
func Validate(cfg *model.Config) error {
	if cfg.ReposRoot == "" {
		return ValidationError{Field: "repos_root", Message: "must be set"}
	}
	switch cfg.Adapter.Type {
	case "mcp":
		if cfg.Adapter.Command == "" {
			return ValidationError{Field: "adapter.command", Message: "required for adapter type mcp"}
		}
	case "fallback":
	default:
		return ValidationError{Field: "adapter.type", Message: fmt.Sprintf("unknown adapter type %q", cfg.Adapter.Type)}
	}
	return nil
}
