package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dev.helix.ensemble/internal/models"
)

const (
	ollamaDefaultBaseURL = "http://localhost:11434"
	ollamaDefaultModel   = "llama3"
)

// OllamaAdapter implements Provider for a local Ollama instance. No API key
// is required; a missing base URL falls back to the local default.
type OllamaAdapter struct {
	def        models.ProviderDefinition
	httpClient *http.Client
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaResponse struct {
	Model         string `json:"model"`
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	DoneReason    string `json:"done_reason"`
	EvalCount     int    `json:"eval_count"`
	PromptEvalLen int    `json:"prompt_eval_count"`
}

// NewOllamaAdapter creates an adapter bound to one provider definition.
func NewOllamaAdapter(def models.ProviderDefinition) (*OllamaAdapter, error) {
	if def.BaseURL == "" {
		def.BaseURL = ollamaDefaultBaseURL
	}
	if def.Model == "" {
		def.Model = ollamaDefaultModel
	}
	return &OllamaAdapter{def: def, httpClient: newHTTPClient()}, nil
}

func (a *OllamaAdapter) Name() string  { return a.def.Name }
func (a *OllamaAdapter) Priority() int { return a.def.Priority }

func (a *OllamaAdapter) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = a.def.Model
	}

	body, err := json.Marshal(ollamaRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			Stop:        req.StopWords,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.def.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: a.def.Name, Message: "HTTP request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: a.def.Name, Message: "failed to read response body", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(a.def.Name, resp, respBody)
	}

	var or ollamaResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return nil, &ProviderError{Provider: a.def.Name, Message: "failed to parse response", Err: err}
	}

	return &models.GenerateResponse{
		Provider:     a.def.Name,
		Model:        or.Model,
		Content:      or.Response,
		TokensUsed:   or.EvalCount,
		LatencyMs:    time.Since(start).Milliseconds(),
		FinishReason: or.DoneReason,
		CreatedAt:    time.Now(),
	}, nil
}

func (a *OllamaAdapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.def.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

func (a *OllamaAdapter) Capabilities() *models.ProviderCapabilities {
	return &models.ProviderCapabilities{
		SupportedModels:   []string{"llama3", "mistral", "qwen2.5"},
		SupportsStreaming: true,
		MaxTokens:         8192,
		Metadata:          map[string]string{"vendor": "Ollama", "local": "true"},
	}
}
