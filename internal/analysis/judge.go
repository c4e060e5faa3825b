package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dev.helix.ensemble/internal/models"
)

// JudgeModule scores each response individually. When the input carries an
// evaluator provider it delegates the rating to that model; otherwise it
// degrades to the deterministic heuristics.
type JudgeModule struct {
	logger *zap.Logger
}

func NewJudgeModule(logger *zap.Logger) *JudgeModule {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JudgeModule{logger: logger}
}

func (m *JudgeModule) Name() string { return "judge" }

func (m *JudgeModule) Analyze(ctx context.Context, input *Input) (*models.AnalysisResult, error) {
	if len(input.Responses) == 0 {
		return nil, fmt.Errorf("judge analysis requires at least one response")
	}

	var scorer *Scorer
	mode := "heuristic"
	if input.Evaluator != nil {
		scorer = NewScorerWithEvaluator(input.Evaluator, m.logger)
		mode = "evaluator"
	} else {
		scorer = NewScorer(m.logger)
	}

	scores := make(map[string]float64, len(input.Responses))
	var recommendations []string

	for _, resp := range input.Responses {
		scores[resp.Provider] = scorer.ScoreWithEvaluator(ctx, input.Prompt, resp.Content)
	}

	for _, provider := range sortedProviders(scores) {
		if scores[provider] < 0.4 {
			recommendations = append(recommendations,
				fmt.Sprintf("response from %s scored low on quality", provider))
		}
	}

	return &models.AnalysisResult{
		Module:          m.Name(),
		Summary:         fmt.Sprintf("%s quality scoring of %d responses", mode, len(input.Responses)),
		ProviderScores:  scores,
		Recommendations: recommendations,
	}, nil
}
