package analysis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"dev.helix.ensemble/internal/llm"
	"dev.helix.ensemble/internal/models"
)

// Fixed heuristic weights. Scoring must be deterministic: identical input
// always yields an identical score.
const (
	weightLength      = 0.25
	weightStructure   = 0.25
	weightSpecificity = 0.30
	weightHedging     = 0.20
)

var hedgingPhrases = []string{
	"i'm not sure",
	"i am not sure",
	"i cannot",
	"i can't",
	"as an ai",
	"it depends",
	"might be",
	"possibly",
	"perhaps",
	"i don't know",
}

// Scorer rates one response's quality on [0,1]. It can delegate to a
// designated evaluator model; when none is configured or the call fails it
// falls back to the deterministic heuristics.
type Scorer struct {
	evaluator llm.Provider
	logger    *zap.Logger
}

// NewScorer creates a heuristic-only scorer.
func NewScorer(logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{logger: logger}
}

// NewScorerWithEvaluator creates a scorer that asks the evaluator model
// first and falls back to heuristics.
func NewScorerWithEvaluator(evaluator llm.Provider, logger *zap.Logger) *Scorer {
	s := NewScorer(logger)
	s.evaluator = evaluator
	return s
}

// Score combines the normalized heuristics with fixed weights. Pure
// function of its inputs.
func (s *Scorer) Score(prompt, text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	score := weightLength*lengthScore(text) +
		weightStructure*structureScore(text) +
		weightSpecificity*specificityScore(prompt, text) +
		weightHedging*(1-hedgingPenalty(text))

	return clamp01(score)
}

// ScoreWithEvaluator delegates to the evaluator model when one is
// configured, falling back to heuristics on absence or failure.
func (s *Scorer) ScoreWithEvaluator(ctx context.Context, prompt, text string) float64 {
	if s.evaluator == nil {
		return s.Score(prompt, text)
	}

	evalPrompt := fmt.Sprintf(
		"Rate the quality of the following answer on a scale from 0.0 to 1.0. "+
			"Reply with the number only.\n\nQuestion:\n%s\n\nAnswer:\n%s",
		prompt, text)

	resp, err := s.evaluator.Generate(ctx, &models.GenerateRequest{Prompt: evalPrompt, MaxTokens: 8})
	if err != nil {
		s.logger.Debug("evaluator scoring failed, using heuristics",
			zap.String("evaluator", s.evaluator.Name()),
			zap.Error(err))
		return s.Score(prompt, text)
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(resp.Content), 64)
	if err != nil || value < 0 || value > 1 {
		s.logger.Debug("evaluator returned unparseable score, using heuristics",
			zap.String("raw", resp.Content))
		return s.Score(prompt, text)
	}
	return value
}

// lengthScore saturates around substantial-but-not-rambling answers.
func lengthScore(text string) float64 {
	words := len(strings.Fields(text))
	switch {
	case words < 5:
		return 0.1
	case words < 20:
		return 0.4
	case words < 50:
		return 0.7
	case words < 400:
		return 1.0
	case words < 800:
		return 0.8
	default:
		return 0.6
	}
}

// structureScore rewards sentences, paragraphs and list markers.
func structureScore(text string) float64 {
	score := 0.0

	sentences := strings.Count(text, ". ") + strings.Count(text, ".\n")
	if strings.HasSuffix(strings.TrimSpace(text), ".") {
		sentences++
	}
	if sentences >= 2 {
		score += 0.4
	} else if sentences == 1 {
		score += 0.2
	}

	if strings.Contains(text, "\n\n") {
		score += 0.3
	}
	if strings.Contains(text, "\n- ") || strings.Contains(text, "\n* ") || strings.Contains(text, "\n1.") {
		score += 0.3
	}

	return clamp01(score + 0.2)
}

// specificityScore rewards concrete detail: digits, examples, and overlap
// with the prompt's own terms.
func specificityScore(prompt, text string) float64 {
	score := 0.2

	if strings.ContainsAny(text, "0123456789") {
		score += 0.2
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "for example") || strings.Contains(lower, "e.g.") || strings.Contains(lower, "such as") {
		score += 0.2
	}

	promptTerms := significantTerms(prompt)
	if len(promptTerms) > 0 {
		matched := 0
		for _, term := range promptTerms {
			if strings.Contains(lower, term) {
				matched++
			}
		}
		score += 0.4 * float64(matched) / float64(len(promptTerms))
	}

	return clamp01(score)
}

// hedgingPenalty returns a value in [0,1] that grows with evasive phrasing.
func hedgingPenalty(text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, phrase := range hedgingPhrases {
		hits += strings.Count(lower, phrase)
	}
	penalty := 0.25 * float64(hits)
	return clamp01(penalty)
}

// significantTerms extracts lowercase prompt words longer than three runes.
func significantTerms(prompt string) []string {
	var terms []string
	for _, word := range strings.Fields(strings.ToLower(prompt)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if len(word) > 3 {
			terms = append(terms, word)
		}
	}
	return terms
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
