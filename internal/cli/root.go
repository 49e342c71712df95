// Package cli wires the vspilot commands. Each command builds its
// runtime from the shared config flag, runs, and tears the runtime down.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vspilot",
	Short: "Unattended driver for editor-embedded coding agents",
	Long: `vspilot scans a workspace of git repositories, syncs an operator plan,
and drives editor chat agents through a desktop capability provider:
posting nudges, harvesting chat output, and recording screenshot evidence
for every attempt.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to config file")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
