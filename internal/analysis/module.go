package analysis

import (
	"context"

	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/models"
)

// Input is what every analysis module receives: the original prompt and
// the surviving responses of one stage. Evaluator is optional; modules
// that want an analysis model degrade to metadata-only scoring without it.
// Modules and Weights narrow or reweight the registered set for one run;
// both nil means "run everything as registered".
type Input struct {
	Prompt    string
	Responses []models.StageResponse
	Evaluator llm.Provider
	Modules   []string
	Weights   map[string]float64
}

// Module is one pluggable analysis strategy, run over a stage's response
// set. Modules must be safe for concurrent use.
type Module interface {
	Name() string
	Analyze(ctx context.Context, input *Input) (*models.AnalysisResult, error)
}
