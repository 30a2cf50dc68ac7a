package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stagecraft",
	Short: "Three-stage feature implementation pipeline",
	Long: `Stagecraft drives a feature request through three gated stages:

  plan       generate an ordered, dependency-checked step plan
  validate   run the configured checks against the plan
  implement  apply steps in dependency order and re-verify

Every stage outcome is persisted as an append-only handoff, so an
interrupted run can be resumed from its last recorded stage with
'stagecraft resume'.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (defaults to .stagecraft.yaml / user config)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
