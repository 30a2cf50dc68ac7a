package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kestrelworks/stagecraft/internal/validation"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

// mutationReport is the JSON shape produced by mutation tooling: either
// an explicit score, or killed/total counts the score is derived from.
type mutationReport struct {
	Score  *float64 `json:"score,omitempty"`
	Killed int      `json:"killed"`
	Total  int      `json:"total"`
}

// MutationScore reads a mutation testing report and scores it against
// the configured threshold. The evaluator owns the threshold
// comparison; this check only reports the observed score.
type MutationScore struct {
	base
	reportPath string
}

// NewMutationScore creates the check over a report file.
func NewMutationScore(settings Settings, reportPath string) *MutationScore {
	return &MutationScore{base: base{settings: settings}, reportPath: reportPath}
}

// Run parses the report. A missing or malformed report is a check
// error, not a score of zero: it means the gate has no signal at all.
func (c *MutationScore) Run(ctx context.Context, subject validation.Subject) (models.ValidationCheck, error) {
	data, err := os.ReadFile(c.reportPath)
	if err != nil {
		return models.ValidationCheck{}, fmt.Errorf("read mutation report: %w", err)
	}

	var report mutationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return models.ValidationCheck{}, fmt.Errorf("parse mutation report %s: %w", c.reportPath, err)
	}

	var score float64
	switch {
	case report.Score != nil:
		score = *report.Score
	case report.Total > 0:
		score = float64(report.Killed) / float64(report.Total)
	default:
		return models.ValidationCheck{}, fmt.Errorf("mutation report %s has no score and no mutants", c.reportPath)
	}

	return models.ValidationCheck{
		Passed: true,
		Score:  &score,
		Detail: fmt.Sprintf("mutation score %.2f (%d/%d killed)", score, report.Killed, report.Total),
	}, nil
}
