// Package checks provides the built-in gate checks. Each check is a
// validation.CheckProvider; its identity and classification come from
// Settings so configuration, not check code, decides what blocks a run.
package checks

// Settings holds the configured identity and classification of one
// check instance.
type Settings struct {
	// Name identifies the check within one evaluator configuration.
	Name string
	// Required makes a failure block pipeline progress. Non-required
	// checks are advisory.
	Required bool
	// Retryable classifies this check's failures as transient.
	Retryable bool
	// Threshold is the minimum acceptable score for scored checks, nil
	// for boolean ones.
	Threshold *float64
}

// base supplies the CheckProvider identity methods from Settings.
type base struct {
	settings Settings
}

func (b base) Name() string        { return b.settings.Name }
func (b base) Required() bool      { return b.settings.Required }
func (b base) Retryable() bool     { return b.settings.Retryable }
func (b base) Threshold() *float64 { return b.settings.Threshold }
