package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kestrelworks/stagecraft/internal/api"
	"github.com/kestrelworks/stagecraft/internal/plan"
	"github.com/kestrelworks/stagecraft/internal/status"
	"github.com/kestrelworks/stagecraft/internal/store"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

var (
	runTarget     string
	runReplanOf   string
	runReplanNote string
)

var runCmd = &cobra.Command{
	Use:   "run <feature request>",
	Short: "Run the pipeline for a feature request",
	Long: `Run a feature request through plan, validate and implement.

The run halts at the first stage whose gate fails and records every
stage outcome as a handoff. Use --replan-of to carry failure context
from an earlier failed run into planning.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runTarget, "target", "", "Target directory (defaults to the current directory)")
	runCmd.Flags().StringVar(&runReplanOf, "replan-of", "", "Run ID of a failed run to replan")
	runCmd.Flags().StringVar(&runReplanNote, "replan-note", "", "Failure summary passed to the planner with --replan-of")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	request := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	target := runTarget
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

	var prior *plan.PriorContext
	if runReplanOf != "" {
		prior, err = priorContext(rt.store, runReplanOf, runReplanNote)
		if err != nil {
			return err
		}
	}

	result, err := rt.orchestrator.StartWithPrior(ctx, request, prior)
	if err != nil {
		return err
	}

	printResult(result)
	if line := usageSummary(rt.usage); line != "" {
		fmt.Println(line)
	}
	if result.Outcome != models.OutcomeCompleted {
		os.Exit(1)
	}
	return nil
}

// usageSummary formats cumulative API token usage, or returns "" when
// the run made no API calls.
func usageSummary(tracker *api.TokenTracker) string {
	if tracker == nil || tracker.Calls() == 0 {
		return ""
	}
	in, out := tracker.Total()
	return fmt.Sprintf("api usage: %d calls, %d input / %d output tokens", tracker.Calls(), in, out)
}

// priorContext loads the replanned run's last recorded handoff. The
// status is taken from storage, not asserted by the caller; whether a
// run with that status may be replanned is the plan stage's decision.
func priorContext(s store.HandoffStore, runID, note string) (*plan.PriorContext, error) {
	handoffs, err := s.List(runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if len(handoffs) == 0 {
		return nil, fmt.Errorf("run %s has no recorded handoffs to replan from", runID)
	}

	last := handoffs[len(handoffs)-1]
	summary := note
	if summary == "" {
		summary = lastFailureSummary(last)
	}
	return &plan.PriorContext{
		RunID:          runID,
		LastStatus:     last.Status,
		FailureSummary: summary,
	}, nil
}

// lastFailureSummary extracts the most useful explanation from a
// terminal handoff.
func lastFailureSummary(h models.StageHandoff) string {
	switch {
	case h.Note != "":
		return h.Note
	case h.Gate != nil:
		return h.Gate.Reason
	case h.Implementation != nil && h.Implementation.Gate != nil:
		return h.Implementation.Gate.Reason
	case h.Plan != nil:
		return h.Plan.Rationale
	default:
		return ""
	}
}

func printResult(result *models.PipelineResult) {
	fmt.Println()
	fmt.Print(status.Render(*result))

	switch result.Outcome {
	case models.OutcomeCompleted:
		fmt.Printf("\n%s run %s completed\n", color.GreenString("✓"), result.RunID)
	default:
		fmt.Printf("\n%s run %s: %s\n", color.RedString("✗"), result.RunID, result.Outcome)
	}
}
