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
	openAIAPIURL       = "https://api.openai.com/v1/chat/completions"
	openAIDefaultModel = "gpt-4o"
)

// OpenAIAdapter implements Provider for the OpenAI chat completions API.
type OpenAIAdapter struct {
	def        models.ProviderDefinition
	httpClient *http.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIAdapter creates an adapter bound to one provider definition.
func NewOpenAIAdapter(def models.ProviderDefinition) (*OpenAIAdapter, error) {
	if def.APIKey == "" {
		return nil, &ConfigurationError{Provider: def.Name, Reason: "API key is required"}
	}
	if def.BaseURL == "" {
		def.BaseURL = openAIAPIURL
	}
	if def.Model == "" {
		def.Model = openAIDefaultModel
	}
	return &OpenAIAdapter{def: def, httpClient: newHTTPClient()}, nil
}

func (a *OpenAIAdapter) Name() string  { return a.def.Name }
func (a *OpenAIAdapter) Priority() int { return a.def.Priority }

func (a *OpenAIAdapter) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = a.def.Model
	}

	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopWords,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.def.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.def.APIKey)

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

	var or openAIResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return nil, &ProviderError{Provider: a.def.Name, Message: "failed to parse response", Err: err}
	}
	if len(or.Choices) == 0 {
		return nil, &ProviderError{Provider: a.def.Name, Message: "response contained no choices"}
	}

	return &models.GenerateResponse{
		Provider:     a.def.Name,
		Model:        or.Model,
		Content:      or.Choices[0].Message.Content,
		TokensUsed:   or.Usage.CompletionTokens,
		LatencyMs:    time.Since(start).Milliseconds(),
		FinishReason: or.Choices[0].FinishReason,
		CreatedAt:    time.Now(),
	}, nil
}

func (a *OpenAIAdapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.openai.com/v1/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.def.APIKey)

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

func (a *OpenAIAdapter) Capabilities() *models.ProviderCapabilities {
	return &models.ProviderCapabilities{
		SupportedModels:   []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo"},
		SupportsStreaming: true,
		MaxTokens:         128000,
		Metadata:          map[string]string{"vendor": "OpenAI"},
	}
}
