package plan

import (
	"context"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

// planDocument is the YAML schema for file-backed plans.
type planDocument struct {
	Rationale string `yaml:"rationale"`
	Steps     []struct {
		ID          string   `yaml:"id"`
		Description string   `yaml:"description"`
		DependsOn   []string `yaml:"depends_on"`
		Risk        string   `yaml:"risk"`
	} `yaml:"steps"`
}

// FileProducer reads a plan from a YAML file. It is deterministic and
// needs no network, which makes it the producer of choice for resumed
// runs and tests.
type FileProducer struct {
	path string
}

// NewFileProducer creates a producer reading from the given path.
func NewFileProducer(path string) *FileProducer {
	return &FileProducer{path: path}
}

// GeneratePlan loads and parses the plan file. Read or parse failures
// are producer failures, distinct from an empty plan.
func (p *FileProducer) GeneratePlan(ctx context.Context, request string, prior *PriorContext) (*models.PlanResult, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var doc planDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", p.path, err)
	}

	steps := make([]models.PlanStep, len(doc.Steps))
	for i, s := range doc.Steps {
		risk := models.RiskLevel(s.Risk)
		if s.Risk == "" {
			risk = models.RiskLow
		}
		steps[i] = models.PlanStep{
			ID:          s.ID,
			Description: s.Description,
			DependsOn:   s.DependsOn,
			Risk:        risk,
		}
	}

	rationale := doc.Rationale
	if rationale == "" {
		rationale = fmt.Sprintf("plan loaded from %s for request: %s", p.path, request)
	}

	return &models.PlanResult{
		Steps:     steps,
		Status:    models.StatusPassed,
		Rationale: rationale,
	}, nil
}
