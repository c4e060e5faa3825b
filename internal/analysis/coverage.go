package analysis

import (
	"context"
	"fmt"

	"dev.helix.ensemble/internal/models"
)

// CoverageModule checks how much of the prompt's vocabulary each response
// actually addresses. Responses that ignore large parts of the question are
// flagged.
type CoverageModule struct{}

func NewCoverageModule() *CoverageModule { return &CoverageModule{} }

func (m *CoverageModule) Name() string { return "coverage" }

func (m *CoverageModule) Analyze(ctx context.Context, input *Input) (*models.AnalysisResult, error) {
	if len(input.Responses) == 0 {
		return nil, fmt.Errorf("coverage analysis requires at least one response")
	}

	terms := make(map[string]struct{})
	for _, term := range significantTerms(input.Prompt) {
		terms[term] = struct{}{}
	}

	scores := make(map[string]float64, len(input.Responses))
	var recommendations []string

	for _, resp := range input.Responses {
		if len(terms) == 0 {
			scores[resp.Provider] = 1.0
			continue
		}
		responseTokens := tokenSet(resp.Content)
		covered := 0
		for term := range terms {
			if _, ok := responseTokens[term]; ok {
				covered++
			}
		}
		scores[resp.Provider] = float64(covered) / float64(len(terms))
	}

	for _, provider := range sortedProviders(scores) {
		if scores[provider] < 0.3 {
			recommendations = append(recommendations,
				fmt.Sprintf("response from %s covers little of the prompt", provider))
		}
	}

	return &models.AnalysisResult{
		Module:          m.Name(),
		Summary:         fmt.Sprintf("prompt-term coverage computed for %d responses over %d terms", len(input.Responses), len(terms)),
		ProviderScores:  scores,
		Recommendations: recommendations,
	}, nil
}
