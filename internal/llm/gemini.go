package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dev.helix.ensemble/internal/models"
)

const (
	geminiAPIURLFormat = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
	geminiDefaultModel = "gemini-2.0-flash"
)

// GeminiAdapter implements Provider for the Google Generative Language API.
type GeminiAdapter struct {
	def        models.ProviderDefinition
	httpClient *http.Client
}

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64  `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiAdapter creates an adapter bound to one provider definition.
func NewGeminiAdapter(def models.ProviderDefinition) (*GeminiAdapter, error) {
	if def.APIKey == "" {
		return nil, &ConfigurationError{Provider: def.Name, Reason: "API key is required"}
	}
	if def.Model == "" {
		def.Model = geminiDefaultModel
	}
	if def.BaseURL == "" {
		def.BaseURL = fmt.Sprintf(geminiAPIURLFormat, def.Model)
	}
	return &GeminiAdapter{def: def, httpClient: newHTTPClient()}, nil
}

func (a *GeminiAdapter) Name() string  { return a.def.Name }
func (a *GeminiAdapter) Priority() int { return a.def.Priority }

func (a *GeminiAdapter) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	start := time.Now()

	greq := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
	}
	if req.System != "" {
		greq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.Temperature > 0 || req.MaxTokens > 0 || len(req.StopWords) > 0 {
		greq.GenerationConfig = &geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.StopWords,
		}
	}

	body, err := json.Marshal(greq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.def.BaseURL+"?key="+a.def.APIKey, bytes.NewReader(body))
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

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, &ProviderError{Provider: a.def.Name, Message: "failed to parse response", Err: err}
	}
	if len(gr.Candidates) == 0 {
		return nil, &ProviderError{Provider: a.def.Name, Message: "response contained no candidates"}
	}

	var sb strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	return &models.GenerateResponse{
		Provider:     a.def.Name,
		Model:        a.def.Model,
		Content:      sb.String(),
		TokensUsed:   gr.UsageMetadata.CandidatesTokenCount,
		LatencyMs:    time.Since(start).Milliseconds(),
		FinishReason: gr.Candidates[0].FinishReason,
		CreatedAt:    time.Now(),
	}, nil
}

func (a *GeminiAdapter) HealthCheck(ctx context.Context) error {
	url := "https://generativelanguage.googleapis.com/v1beta/models?key=" + a.def.APIKey
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

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

func (a *GeminiAdapter) Capabilities() *models.ProviderCapabilities {
	return &models.ProviderCapabilities{
		SupportedModels:   []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"},
		SupportsStreaming: true,
		MaxTokens:         1048576,
		Metadata:          map[string]string{"vendor": "Google"},
	}
}
