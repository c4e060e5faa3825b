package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.ensemble/internal/models"
)

func claudeDef(url string) models.ProviderDefinition {
	return models.ProviderDefinition{
		Name: "claude", Kind: "claude", Priority: 3,
		APIKey: "test-key", BaseURL: url, Enabled: true,
	}
}

func TestNewClaudeAdapter_RequiresAPIKey(t *testing.T) {
	_, err := NewClaudeAdapter(models.ProviderDefinition{Name: "claude"})

	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "claude", ce.Provider)
}

func TestClaudeAdapter_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"model": "claude-3-5-sonnet-20241022",
			"stop_reason": "end_turn",
			"content": [{"type": "text", "text": "recursion is self-reference"}],
			"usage": {"input_tokens": 10, "output_tokens": 12}
		}`))
	}))
	defer srv.Close()

	adapter, err := NewClaudeAdapter(claudeDef(srv.URL))
	require.NoError(t, err)

	resp, err := adapter.Generate(context.Background(), &models.GenerateRequest{Prompt: "Define recursion"})

	require.NoError(t, err)
	assert.Equal(t, "claude", resp.Provider)
	assert.Equal(t, "recursion is self-reference", resp.Content)
	assert.Equal(t, 12, resp.TokensUsed)
	assert.Equal(t, "end_turn", resp.FinishReason)
}

func TestClaudeAdapter_MapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter, err := NewClaudeAdapter(claudeDef(srv.URL))
	require.NoError(t, err)

	_, err = adapter.Generate(context.Background(), &models.GenerateRequest{Prompt: "hi"})

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 7, rle.RetryAfter)
	assert.True(t, IsRetryable(err))
}

func TestClaudeAdapter_MapsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter, err := NewClaudeAdapter(claudeDef(srv.URL))
	require.NoError(t, err)

	_, err = adapter.Generate(context.Background(), &models.GenerateRequest{Prompt: "hi"})

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
	assert.True(t, IsRetryable(err))
}

func TestOpenAIAdapter_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "a function calling itself"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 6, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	adapter, err := NewOpenAIAdapter(models.ProviderDefinition{
		Name: "openai", Kind: "openai", APIKey: "test-key", BaseURL: srv.URL, Enabled: true,
	})
	require.NoError(t, err)

	resp, err := adapter.Generate(context.Background(), &models.GenerateRequest{
		Prompt: "Define recursion",
		System: "be brief",
	})

	require.NoError(t, err)
	assert.Equal(t, "a function calling itself", resp.Content)
	assert.Equal(t, 6, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOpenAIAdapter_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "chatcmpl-1", "model": "gpt-4o", "choices": []}`))
	}))
	defer srv.Close()

	adapter, err := NewOpenAIAdapter(models.ProviderDefinition{
		Name: "openai", Kind: "openai", APIKey: "test-key", BaseURL: srv.URL, Enabled: true,
	})
	require.NoError(t, err)

	_, err = adapter.Generate(context.Background(), &models.GenerateRequest{Prompt: "hi"})

	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestGeminiAdapter_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "see: recursion"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 4}
		}`))
	}))
	defer srv.Close()

	adapter, err := NewGeminiAdapter(models.ProviderDefinition{
		Name: "gemini", Kind: "gemini", APIKey: "test-key", BaseURL: srv.URL, Enabled: true,
	})
	require.NoError(t, err)

	resp, err := adapter.Generate(context.Background(), &models.GenerateRequest{Prompt: "Define recursion"})

	require.NoError(t, err)
	assert.Equal(t, "see: recursion", resp.Content)
	assert.Equal(t, 4, resp.TokensUsed)
}

func TestOllamaAdapter_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "llama3",
			"response": "recursion: when a thing is defined in terms of itself",
			"done": true,
			"done_reason": "stop",
			"eval_count": 14
		}`))
	}))
	defer srv.Close()

	adapter, err := NewOllamaAdapter(models.ProviderDefinition{
		Name: "ollama", Kind: "ollama", BaseURL: srv.URL, Enabled: true,
	})
	require.NoError(t, err)

	resp, err := adapter.Generate(context.Background(), &models.GenerateRequest{Prompt: "Define recursion"})

	require.NoError(t, err)
	assert.Equal(t, "recursion: when a thing is defined in terms of itself", resp.Content)
	assert.Equal(t, 14, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestRegistry_BuildsFromDefinitions(t *testing.T) {
	defs := []models.ProviderDefinition{
		{Name: "claude", Kind: "claude", Priority: 3, APIKey: "k", Enabled: true},
		{Name: "openai", Kind: "openai", Priority: 2, APIKey: "k", Enabled: true},
		{Name: "disabled", Kind: "openai", Priority: 9, APIKey: "k", Enabled: false},
	}

	registry, err := NewRegistry(defs, DefaultRegistryConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"claude", "openai"}, registry.Names())
	_, ok := registry.Get("disabled")
	assert.False(t, ok)

	status := registry.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "claude", status[0].Name, "status sorted by descending priority")
	assert.Equal(t, CircuitClosed, status[0].Circuit.State)
}

func TestRegistry_ConfigurationErrorIsFatal(t *testing.T) {
	defs := []models.ProviderDefinition{
		{Name: "claude", Kind: "claude", Enabled: true}, // missing API key
	}

	_, err := NewRegistry(defs, DefaultRegistryConfig(), nil)

	var ce *ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestRegistry_UnknownKind(t *testing.T) {
	defs := []models.ProviderDefinition{
		{Name: "x", Kind: "telepathy", Enabled: true},
	}

	_, err := NewRegistry(defs, DefaultRegistryConfig(), nil)

	var ce *ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestRegistry_NoProviders(t *testing.T) {
	_, err := NewRegistry(nil, DefaultRegistryConfig(), nil)
	assert.Error(t, err)
}
