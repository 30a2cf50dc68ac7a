package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kestrelworks/stagecraft/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a stagecraft project",
	Long: `Initialize a directory for use with stagecraft.

This creates the .stagecraft directory (handoff store, status
snapshots, signal files) and a commented .stagecraft.yaml config
template. The directory argument defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing stagecraft in %s...\n\n", absPath)

	stagecraftDir := filepath.Join(absPath, ".stagecraft")
	if _, err := os.Stat(stagecraftDir); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	for _, dir := range []string{
		stagecraftDir,
		filepath.Join(stagecraftDir, "signals"),
		filepath.Join(stagecraftDir, "status"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .stagecraft directory structure", color.FgGreen)

	configTemplate := filepath.Join(absPath, ".stagecraft.yaml")
	if _, err := os.Stat(configTemplate); os.IsNotExist(err) || initForce {
		if err := os.WriteFile(configTemplate, []byte(projectConfigTemplate), 0644); err != nil {
			return fmt.Errorf("writing config template: %w", err)
		}
		printStatus("✓", "Created .stagecraft.yaml template", color.FgGreen)
	}

	if err := updateGitignore(absPath); err == nil {
		printStatus("✓", "Updated .gitignore", color.FgGreen)
	}

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (the claude producer needs it)", color.FgYellow)
	} else {
		printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	}

	fmt.Printf("\n%s stagecraft initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Review .stagecraft.yaml and configure your checks")
	fmt.Printf("  2. Put machine-wide defaults in %s\n", config.GetUserConfigPath())
	fmt.Println("  3. Run 'stagecraft run \"<feature request>\"'")
	return nil
}

func printStatus(symbol, message string, attr color.Attribute) {
	color.New(attr).Printf("%s ", symbol)
	fmt.Println(message)
}

func updateGitignore(dir string) error {
	path := filepath.Join(dir, ".gitignore")
	entry := "\n# stagecraft\n.stagecraft/\n"

	existing, err := os.ReadFile(path)
	if err == nil {
		if strings.Contains(string(existing), ".stagecraft/") {
			return nil
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.WriteString(entry)
		return err
	}
	return os.WriteFile(path, []byte(entry), 0644)
}

const projectConfigTemplate = `# stagecraft project configuration
# Settings here override the user config in ~/.config/stagecraft/.

# How plans are generated: "claude" (Anthropic API) or "file" (YAML plan).
producer:
  kind: claude
  # plan_file: plan.yaml

# anthropic:
#   api_key: ${ANTHROPIC_API_KEY}
#   model: claude-sonnet-4-20250514
#   use_bedrock: false

retry:
  max_attempts: 3
  backoff: 2s

store:
  path: .stagecraft/stagecraft.db

status:
  dir: .stagecraft/status

# How plan steps are applied. The command runs once per step with
# STAGECRAFT_STEP_ID, STAGECRAFT_STEP_DESC and STAGECRAFT_STEP_RISK set.
# Leave empty for a dry run that only logs.
implement:
  command: ""

# Gate checks. Kinds: tests-exist, dependency-resolution,
# mutation-score, command.
checks:
  - name: dependency-resolution
    kind: dependency-resolution
    required: true
  - name: tests-exist
    kind: tests-exist
    required: true
  # - name: lint
  #   kind: command
  #   command: golangci-lint run
  #   timeout: 2m
  #   retryable: true
  # - name: mutation-score
  #   kind: mutation-score
  #   report: mutation.json
  #   threshold: 0.8
  #   required: true
`
