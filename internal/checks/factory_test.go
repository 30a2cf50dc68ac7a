package checks

import (
	"testing"

	"github.com/kestrelworks/stagecraft/internal/config"
	"github.com/kestrelworks/stagecraft/internal/exec"
)

func TestBuild(t *testing.T) {
	threshold := 0.8
	configs := []config.CheckConfig{
		{Kind: "tests-exist", Required: true},
		{Name: "deps", Kind: "dependency-resolution", Required: true},
		{Name: "mutants", Kind: "mutation-score", Threshold: &threshold, Report: "mutation.json"},
		{Name: "lint", Kind: "command", Command: "golangci-lint run", Retryable: true},
	}

	providers, err := Build(configs, exec.NewRunner(), t.TempDir())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(providers) != 4 {
		t.Fatalf("got %d providers, want 4", len(providers))
	}

	// An unnamed check falls back to its kind.
	if providers[0].Name() != "tests-exist" {
		t.Errorf("first provider name = %q", providers[0].Name())
	}
	if providers[2].Threshold() == nil || *providers[2].Threshold() != 0.8 {
		t.Errorf("mutation threshold not carried through")
	}
	if !providers[3].Retryable() {
		t.Error("lint should be retryable")
	}
}

func TestBuildRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		config config.CheckConfig
	}{
		{"unknown kind", config.CheckConfig{Name: "x", Kind: "nope"}},
		{"mutation without report", config.CheckConfig{Name: "x", Kind: "mutation-score"}},
		{"command without command", config.CheckConfig{Name: "x", Kind: "command"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build([]config.CheckConfig{tt.config}, exec.NewRunner(), t.TempDir()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
