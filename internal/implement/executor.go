package implement

import (
	"context"
	"fmt"
	"log"
	"os"
	osexec "os/exec"
	"strings"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

// CommandExecutor applies steps by running a configured shell command
// once per step. The step is exposed to the command through environment
// variables, so one script can dispatch on step IDs.
type CommandExecutor struct {
	command string
}

// NewCommandExecutor creates the executor. The command is run with
// STAGECRAFT_STEP_ID, STAGECRAFT_STEP_DESC and STAGECRAFT_STEP_RISK set.
func NewCommandExecutor(command string) *CommandExecutor {
	return &CommandExecutor{command: command}
}

// ExecuteStep runs the command for one step. A non-zero exit is a step
// failure.
func (e *CommandExecutor) ExecuteStep(ctx context.Context, step models.PlanStep, target string) error {
	cmd := osexec.CommandContext(ctx, "sh", "-c", e.command)
	if target != "" {
		cmd.Dir = target
	}
	cmd.Env = append(os.Environ(),
		"STAGECRAFT_STEP_ID="+step.ID,
		"STAGECRAFT_STEP_DESC="+step.Description,
		"STAGECRAFT_STEP_RISK="+string(step.Risk),
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(output))
		if len(trimmed) > 400 {
			trimmed = trimmed[:400] + "..."
		}
		return fmt.Errorf("step command failed: %w: %s", err, trimmed)
	}
	return nil
}

// LogExecutor is the dry-run executor: it records what would be applied
// without touching the target.
type LogExecutor struct{}

// ExecuteStep logs the step and succeeds.
func (LogExecutor) ExecuteStep(ctx context.Context, step models.PlanStep, target string) error {
	log.Printf("[implement] dry run: would apply step %s (%s)", step.ID, step.Description)
	return nil
}
