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
	claudeAPIURL       = "https://api.anthropic.com/v1/messages"
	claudeDefaultModel = "claude-3-5-sonnet-20241022"
	anthropicVersion   = "2023-06-01"
)

// ClaudeAdapter implements Provider for the Anthropic Messages API.
type ClaudeAdapter struct {
	def        models.ProviderDefinition
	httpClient *http.Client
}

type claudeRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   float64         `json:"temperature,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	System        string          `json:"system,omitempty"`
	Messages      []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeAdapter creates an adapter bound to one provider definition.
func NewClaudeAdapter(def models.ProviderDefinition) (*ClaudeAdapter, error) {
	if def.APIKey == "" {
		return nil, &ConfigurationError{Provider: def.Name, Reason: "API key is required"}
	}
	if def.BaseURL == "" {
		def.BaseURL = claudeAPIURL
	}
	if def.Model == "" {
		def.Model = claudeDefaultModel
	}
	return &ClaudeAdapter{def: def, httpClient: newHTTPClient()}, nil
}

func (a *ClaudeAdapter) Name() string  { return a.def.Name }
func (a *ClaudeAdapter) Priority() int { return a.def.Priority }

func (a *ClaudeAdapter) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = a.def.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body, err := json.Marshal(claudeRequest{
		Model:         model,
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.StopWords,
		System:        req.System,
		Messages:      []claudeMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.def.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.def.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

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

	var cr claudeResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, &ProviderError{Provider: a.def.Name, Message: "failed to parse response", Err: err}
	}

	var content string
	if len(cr.Content) > 0 {
		content = cr.Content[0].Text
	}

	return &models.GenerateResponse{
		Provider:     a.def.Name,
		Model:        cr.Model,
		Content:      content,
		TokensUsed:   cr.Usage.OutputTokens,
		LatencyMs:    time.Since(start).Milliseconds(),
		FinishReason: cr.StopReason,
		CreatedAt:    time.Now(),
	}, nil
}

// HealthCheck verifies the API is reachable. Anthropic answers GET on the
// messages endpoint with 4xx, which still proves reachability.
func (a *ClaudeAdapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.def.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("x-api-key", a.def.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("health check failed with server error: %d", resp.StatusCode)
	}
	return nil
}

func (a *ClaudeAdapter) Capabilities() *models.ProviderCapabilities {
	return &models.ProviderCapabilities{
		SupportedModels: []string{
			"claude-3-5-sonnet-20241022",
			"claude-3-5-haiku-20241022",
			"claude-3-opus-20240229",
		},
		SupportsStreaming: true,
		MaxTokens:         200000,
		Metadata: map[string]string{
			"vendor":      "Anthropic",
			"api_version": anthropicVersion,
		},
	}
}
