package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/kestrelworks/stagecraft/internal/plan"
	"github.com/kestrelworks/stagecraft/internal/ratelimit"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

const plannerSystemPrompt = `You are a software planning assistant. Given a feature request, produce an ordered implementation plan.

Respond with a single JSON object and nothing else:
{
  "rationale": "one paragraph explaining the approach",
  "steps": [
    {
      "id": "short-kebab-case-id",
      "description": "what this step changes",
      "depends_on": ["ids", "of", "earlier", "steps"],
      "risk": "low|medium|high"
    }
  ]
}

Rules:
- Steps may only depend on steps listed earlier in the array.
- Every id must be unique.
- Keep steps small enough to apply and verify independently.
- If the request needs no code change, return an empty steps array and say why in the rationale.`

// Planner generates plans through the Anthropic API. It implements
// plan.Producer.
type Planner struct {
	client  *Client
	limiter *ratelimit.Limiter
}

// NewPlanner creates a Planner. The limiter may be nil to disable
// throttling.
func NewPlanner(client *Client, limiter *ratelimit.Limiter) *Planner {
	return &Planner{client: client, limiter: limiter}
}

// GeneratePlan asks the model for a plan and parses the response.
func (p *Planner) GeneratePlan(ctx context.Context, request string, prior *plan.PriorContext) (*models.PlanResult, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := p.client.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.client.Model(),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: plannerSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPlanPrompt(request, prior))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("plan generation call: %w", err)
	}

	p.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	return parsePlanResponse(text)
}

// buildPlanPrompt assembles the user prompt, injecting replanning
// context when a prior run failed.
func buildPlanPrompt(request string, prior *plan.PriorContext) string {
	var sb strings.Builder
	sb.WriteString("## Feature Request\n\n")
	sb.WriteString(request)
	sb.WriteString("\n")

	if prior != nil {
		sb.WriteString("\n## Previous Attempt\n\n")
		sb.WriteString(fmt.Sprintf("A previous run (%s) failed", prior.RunID))
		if prior.FailureSummary != "" {
			sb.WriteString(": " + prior.FailureSummary)
		}
		sb.WriteString("\nProduce a plan that avoids repeating that failure.\n")
	}

	return sb.String()
}

// planDocument mirrors the JSON shape the model is asked for.
type planDocument struct {
	Rationale string `json:"rationale"`
	Steps     []struct {
		ID          string   `json:"id"`
		Description string   `json:"description"`
		DependsOn   []string `json:"depends_on"`
		Risk        string   `json:"risk"`
	} `json:"steps"`
}

// parsePlanResponse extracts and decodes the JSON plan from the model's
// response text.
func parsePlanResponse(response string) (*models.PlanResult, error) {
	jsonStart := strings.Index(response, "{")
	jsonEnd := strings.LastIndex(response, "}")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no JSON object in plan response")
	}

	var doc planDocument
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &doc); err != nil {
		return nil, fmt.Errorf("parse plan response: %w", err)
	}

	result := &models.PlanResult{
		Status:    models.StatusPassed,
		Rationale: doc.Rationale,
	}
	for _, s := range doc.Steps {
		risk := models.RiskLevel(s.Risk)
		if risk == "" {
			risk = models.RiskLow
		}
		result.Steps = append(result.Steps, models.PlanStep{
			ID:          s.ID,
			Description: s.Description,
			DependsOn:   s.DependsOn,
			Risk:        risk,
		})
	}
	return result, nil
}
