package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/stagecraft/internal/status"
	"github.com/kestrelworks/stagecraft/internal/store"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

var statusTarget string

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show recorded runs and their stage outcomes",
	Long: `Display runs from the handoff store.

With no argument, lists all recorded runs. With a run ID, renders that
run's full handoff chain.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusTarget, "target", "", "Target directory (defaults to the current directory)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	target := statusTarget
	if target == "" {
		if target, err = workingDir(); err != nil {
			return err
		}
	}

	// Status is read-only: it needs the handoff store, not the full
	// pipeline runtime.
	handoffs, closer, err := openStore(cfg, target)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	if len(args) == 1 {
		return showRun(handoffs, args[0])
	}
	return listRuns(handoffs)
}

func showRun(s store.HandoffStore, runID string) error {
	handoffs, err := s.List(runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if len(handoffs) == 0 {
		fmt.Printf("run %s has no recorded handoffs\n", runID)
		return nil
	}

	result := models.PipelineResult{RunID: runID, Handoffs: handoffs}
	if last := result.LastHandoff(); last != nil {
		result.Status = last.Status
	}
	fmt.Print(status.Render(result))
	return nil
}

func listRuns(s store.HandoffStore) error {
	runs, err := s.Runs()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs. Start one with 'stagecraft run <feature request>'.")
		return nil
	}

	for _, runID := range runs {
		handoffs, err := s.List(runID)
		if err != nil {
			return fmt.Errorf("load run %s: %w", runID, err)
		}
		last := "no handoffs"
		if n := len(handoffs); n > 0 {
			h := handoffs[n-1]
			last = fmt.Sprintf("%s %s at seq %d", h.Source, h.Status, h.Seq)
		}
		fmt.Printf("%s  %s\n", runID, last)
	}
	return nil
}
