package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"dev.helix.ensemble/internal/models"
)

// PeerResponse is another provider's answer presented verbatim inside a
// stage prompt.
type PeerResponse struct {
	Provider string
	Content  string
}

// PromptContext is the data handed to a stage template.
type PromptContext struct {
	Prompt       string
	Own          string
	Peers        []PeerResponse
	Instructions string
}

// Pattern is a named workflow descriptor: which stages run and how each
// stage's prompt is built. Patterns are data shared read-only across
// requests; no pattern gets its own code path.
type Pattern struct {
	Name         string
	Description  string
	Stages       []string
	Instructions map[string]string

	analysisTmpl   *template.Template
	refinementTmpl *template.Template
	synthesisTmpl  *template.Template
}

// AnalysisPrompt builds one provider's meta prompt: its own answer plus
// every peer's, verbatim.
func (p *Pattern) AnalysisPrompt(prompt, own string, peers []PeerResponse) (string, error) {
	return render(p.analysisTmpl, PromptContext{
		Prompt:       prompt,
		Own:          own,
		Peers:        peers,
		Instructions: p.Instructions[models.StageAnalysis],
	})
}

// RefinementPrompt builds the revision prompt from a provider's analysis and
// its peers' analyses.
func (p *Pattern) RefinementPrompt(prompt, own string, peers []PeerResponse) (string, error) {
	return render(p.refinementTmpl, PromptContext{
		Prompt:       prompt,
		Own:          own,
		Peers:        peers,
		Instructions: p.Instructions[models.StageRefinement],
	})
}

// SynthesisPrompt builds the lead provider's final prompt over every
// refinement output.
func (p *Pattern) SynthesisPrompt(prompt string, peers []PeerResponse) (string, error) {
	return render(p.synthesisTmpl, PromptContext{
		Prompt:       prompt,
		Peers:        peers,
		Instructions: p.Instructions[models.StageSynthesis],
	})
}

func render(tmpl *template.Template, ctx PromptContext) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, ctx); err != nil {
		return "", fmt.Errorf("render stage prompt: %w", err)
	}
	return sb.String(), nil
}

const analysisTemplateText = `{{.Instructions}}

Original question:
{{.Prompt}}

Your previous answer:
{{.Own}}

Answers from the other models:
{{range .Peers}}--- {{.Provider}} ---
{{.Content}}

{{end}}`

const refinementTemplateText = `{{.Instructions}}

Original question:
{{.Prompt}}

Your analysis:
{{.Own}}

Analyses from the other models:
{{range .Peers}}--- {{.Provider}} ---
{{.Content}}

{{end}}`

const synthesisTemplateText = `{{.Instructions}}

Original question:
{{.Prompt}}

Refined answers from all models:
{{range .Peers}}--- {{.Provider}} ---
{{.Content}}

{{end}}`

func mustPattern(name, description string, instructions map[string]string) *Pattern {
	return &Pattern{
		Name:         name,
		Description:  description,
		Stages:       []string{models.StageInitial, models.StageAnalysis, models.StageRefinement, models.StageSynthesis},
		Instructions: instructions,

		analysisTmpl:   template.Must(template.New(name + ".analysis").Parse(analysisTemplateText)),
		refinementTmpl: template.Must(template.New(name + ".refinement").Parse(refinementTemplateText)),
		synthesisTmpl:  template.Must(template.New(name + ".synthesis").Parse(synthesisTemplateText)),
	}
}

// PatternSet is the read-only registry of known patterns.
type PatternSet struct {
	patterns map[string]*Pattern
}

// DefaultPatternSet returns the built-in patterns. The only difference
// between patterns is the per-stage instruction text; stages and template
// structure are shared.
func DefaultPatternSet() *PatternSet {
	set := &PatternSet{patterns: make(map[string]*Pattern)}

	set.Add(mustPattern("comparative",
		"compare answers point by point and keep the strongest elements",
		map[string]string{
			models.StageAnalysis:   "Compare your answer with the others point by point. Note where they agree, where they differ, and which claims are best supported.",
			models.StageRefinement: "Revise your analysis using the strongest points from every model. Correct anything the comparison showed to be wrong.",
			models.StageSynthesis:  "Combine the refined answers into one definitive answer. Prefer claims the models agree on; resolve conflicts explicitly.",
		}))

	set.Add(mustPattern("critique",
		"each model critiques the others before revising",
		map[string]string{
			models.StageAnalysis:   "Critique each of the other answers: identify factual errors, gaps, and unsupported claims. Then critique your own with the same rigor.",
			models.StageRefinement: "Rewrite your answer so that none of the critiques raised against it still apply.",
			models.StageSynthesis:  "Produce the final answer from the revised responses, keeping only material that survived critique.",
		}))

	set.Add(mustPattern("consensus",
		"converge on the points all models agree on",
		map[string]string{
			models.StageAnalysis:   "Identify the claims every answer agrees on, and list the points of disagreement separately.",
			models.StageRefinement: "Restate your answer keeping the agreed claims and marking any disagreement you still stand behind, with your reasoning.",
			models.StageSynthesis:  "Write a final answer built on the consensus claims. Mention unresolved disagreements only if material.",
		}))

	return set
}

// Add registers a pattern under its name, replacing any existing one.
func (s *PatternSet) Add(p *Pattern) {
	s.patterns[p.Name] = p
}

// Lookup returns the named pattern.
func (s *PatternSet) Lookup(name string) (*Pattern, bool) {
	p, ok := s.patterns[name]
	return p, ok
}

// Names returns the registered pattern names sorted alphabetically.
func (s *PatternSet) Names() []string {
	names := make([]string, 0, len(s.patterns))
	for name := range s.patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
