// Package model defines the data structures shared across vspilot: the
// runtime configuration, the per-run state, and the records produced by
// each stage of a run.
package model

type Config struct {
	ReposRoot        string          `yaml:"repos_root"`
	WriteMode        bool            `yaml:"write_mode"`
	WindowTitleRegex string          `yaml:"window_title_regex"`
	StateDir         string          `yaml:"state_dir"`
	PlanPath         string          `yaml:"plan_path"`
	Adapter          AdapterConfig   `yaml:"adapter"`
	Copilot          CopilotConfig   `yaml:"copilot"`
	Monitor          MonitorConfig   `yaml:"monitor"`
	Scheduler        SchedulerConfig `yaml:"scheduler"`
	Logging          LoggingConfig   `yaml:"logging"`
}

// AdapterConfig selects and configures the desktop capability backend.
// Type "mcp" spawns the configured command as an MCP stdio server;
// type "fallback" installs a no-op adapter for dry runs.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env,omitempty"`
}

type CopilotConfig struct {
	CommandPaletteAction string `yaml:"command_palette_action"`
}

type MonitorConfig struct {
	BusyDiffThreshold int `yaml:"busy_diff_threshold"`
}

type SchedulerConfig struct {
	IntervalSec        int `yaml:"interval_sec"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}
