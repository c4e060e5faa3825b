package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"dev.helix.ensemble/internal/models"
)

// ConsensusModule measures pairwise agreement between responses using
// token-set overlap. A response that agrees with its peers scores high; an
// outlier scores low.
type ConsensusModule struct{}

func NewConsensusModule() *ConsensusModule { return &ConsensusModule{} }

func (m *ConsensusModule) Name() string { return "consensus" }

func (m *ConsensusModule) Analyze(ctx context.Context, input *Input) (*models.AnalysisResult, error) {
	if len(input.Responses) == 0 {
		return nil, fmt.Errorf("consensus analysis requires at least one response")
	}

	tokens := make(map[string]map[string]struct{}, len(input.Responses))
	for _, resp := range input.Responses {
		tokens[resp.Provider] = tokenSet(resp.Content)
	}

	scores := make(map[string]float64, len(input.Responses))
	for _, resp := range input.Responses {
		if len(input.Responses) == 1 {
			scores[resp.Provider] = 1.0
			continue
		}
		var sum float64
		for _, other := range input.Responses {
			if other.Provider == resp.Provider {
				continue
			}
			sum += jaccard(tokens[resp.Provider], tokens[other.Provider])
		}
		scores[resp.Provider] = sum / float64(len(input.Responses)-1)
	}

	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	var recommendations []string
	for _, provider := range sortedProviders(scores) {
		if scores[provider] < mean*0.5 {
			recommendations = append(recommendations,
				fmt.Sprintf("response from %s diverges from the group", provider))
		}
	}

	return &models.AnalysisResult{
		Module:          m.Name(),
		Summary:         fmt.Sprintf("mean pairwise agreement %.2f across %d responses", mean, len(input.Responses)),
		ProviderScores:  scores,
		Recommendations: recommendations,
	}, nil
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if len(word) > 2 {
			set[word] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func sortedProviders(scores map[string]float64) []string {
	providers := make([]string, 0, len(scores))
	for p := range scores {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}
