package models

import "time"

// ProviderDefinition describes one configured LLM backend. Definitions are
// built once at startup from configuration and never mutated afterwards.
type ProviderDefinition struct {
	Name     string            `json:"name" yaml:"name"`
	Kind     string            `json:"kind" yaml:"kind"` // "claude", "openai", "gemini", "ollama"
	Priority int               `json:"priority" yaml:"priority"`
	Model    string            `json:"model" yaml:"model"`
	BaseURL  string            `json:"base_url" yaml:"base_url"`
	APIKey   string            `json:"-" yaml:"-"`
	Enabled  bool              `json:"enabled" yaml:"enabled"`
	Options  map[string]string `json:"options" yaml:"options"`
}

// GenerateRequest is the uniform request shape every adapter accepts.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	System      string   `json:"system,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	StopWords   []string `json:"stop_words,omitempty"`
}

// GenerateResponse is the uniform response shape every adapter produces.
type GenerateResponse struct {
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	TokensUsed   int       `json:"tokens_used"`
	LatencyMs    int64     `json:"latency_ms"`
	FinishReason string    `json:"finish_reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// PipelineRequest is a single orchestration job. It is immutable after
// creation; its fingerprint of the material fields is the cache key.
type PipelineRequest struct {
	Prompt            string            `json:"prompt"`
	CorrelationID     string            `json:"correlation_id"`
	SelectedProviders []string          `json:"selected_providers"`
	LeadProvider      string            `json:"lead_provider,omitempty"`
	Pattern           string            `json:"pattern"`
	StageOptions      map[string]string `json:"stage_options,omitempty"`
	Identity          string            `json:"identity,omitempty"`
	Tier              string            `json:"tier,omitempty"`
}

// Pipeline stage names.
const (
	StageInitial    = "initial"
	StageAnalysis   = "analysis"
	StageRefinement = "refinement"
	StageSynthesis  = "synthesis"
)

// StageResponse is one provider's output for one pipeline stage. Either
// Content or Error is set, never both.
type StageResponse struct {
	Provider     string  `json:"provider"`
	Stage        string  `json:"stage"`
	Content      string  `json:"content,omitempty"`
	Error        string  `json:"error,omitempty"`
	LatencyMs    int64   `json:"latency_ms"`
	QualityScore float64 `json:"quality_score,omitempty"`
}

// Succeeded reports whether the provider produced usable output.
func (r *StageResponse) Succeeded() bool {
	return r.Error == "" && r.Content != ""
}

// AnalysisResult is the output of one analysis module over a stage's
// response set.
type AnalysisResult struct {
	Module          string             `json:"module"`
	Summary         string             `json:"summary"`
	ProviderScores  map[string]float64 `json:"provider_scores"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// Synthesis is the final answer together with the provider that produced it.
type Synthesis struct {
	Provider string `json:"provider"`
	Content  string `json:"content"`
}

// PipelineStatus values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PipelineResult is the full record of one pipeline run. It is written once
// when synthesis completes and never mutated after that.
type PipelineResult struct {
	CorrelationID       string           `json:"correlation_id"`
	Pattern             string           `json:"pattern"`
	Status              string           `json:"status"`
	InitialResponses    []StageResponse  `json:"initial_responses"`
	AnalysisResults     []AnalysisResult `json:"analysis_results,omitempty"`
	AnalysisResponses   []StageResponse  `json:"analysis_responses,omitempty"`
	RefinementResponses []StageResponse  `json:"refinement_responses,omitempty"`
	Synthesis           *Synthesis       `json:"synthesis,omitempty"`
	SelectedBest        string           `json:"selected_best,omitempty"`
	LeadProvider        string           `json:"lead_provider,omitempty"`
	DurationMs          int64            `json:"duration_ms"`
	CreatedAt           time.Time        `json:"created_at"`
}

// ProviderCapabilities describes what an adapter's backend supports.
type ProviderCapabilities struct {
	SupportedModels   []string          `json:"supported_models"`
	SupportsStreaming bool              `json:"supports_streaming"`
	MaxTokens         int               `json:"max_tokens"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}
