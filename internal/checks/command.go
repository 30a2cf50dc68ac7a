package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	execrunner "github.com/kestrelworks/stagecraft/internal/exec"
	"github.com/kestrelworks/stagecraft/internal/validation"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

// Command runs an arbitrary shell command against the target and passes
// when it exits zero. This is the escape hatch for project-specific
// gates: linters, builds, test suites.
type Command struct {
	base
	runner  execrunner.CommandRunner
	workDir string
	command string
	timeout time.Duration
}

// NewCommand creates the check. A zero timeout means no limit beyond
// the caller's context.
func NewCommand(settings Settings, runner execrunner.CommandRunner, workDir, command string, timeout time.Duration) *Command {
	return &Command{
		base:    base{settings: settings},
		runner:  runner,
		workDir: workDir,
		command: command,
		timeout: timeout,
	}
}

// Run executes the command. A non-zero exit is a check failure with the
// command output as detail. Failure to start the command at all is a
// check error.
func (c *Command) Run(ctx context.Context, subject validation.Subject) (models.ValidationCheck, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	output, err := c.runner.RunShell(ctx, c.workDir, c.command)
	if err == nil {
		return models.ValidationCheck{
			Passed: true,
			Detail: fmt.Sprintf("%q exited 0", c.command),
		}, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.ValidationCheck{
			Passed: false,
			Detail: fmt.Sprintf("%q timed out after %s", c.command, c.timeout),
		}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return models.ValidationCheck{
			Passed: false,
			Detail: fmt.Sprintf("%q exited %d: %s", c.command, exitErr.ExitCode(), truncate(string(output), 400)),
		}, nil
	}

	return models.ValidationCheck{}, fmt.Errorf("run %q: %w", c.command, err)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
