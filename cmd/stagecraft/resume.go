package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

var resumeTarget string

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id> <feature request>",
	Short: "Resume an interrupted run from its persisted handoffs",
	Long: `Resume a run from its last recorded stage outcome.

Stages with a recorded handoff are not re-executed. The feature request
must match the one the run was started with, because stage inputs are
not persisted.`,
	Args: cobra.ExactArgs(2),
	RunE: resumePipeline,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeTarget, "target", "", "Target directory (defaults to the current directory)")
}

func resumePipeline(cmd *cobra.Command, args []string) error {
	runID, request := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	target := resumeTarget
	if target == "" {
		if target, err = workingDir(); err != nil {
			return err
		}
	}

	rt, err := buildRuntime(cfg, target)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := rt.orchestrator.Resume(ctx, runID, request)
	if err != nil {
		return err
	}

	printResult(result)
	if result.Outcome != models.OutcomeCompleted {
		os.Exit(1)
	}
	return nil
}
