package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropic(t *testing.T, baseURL string) *AnthropicProvider {
	t.Helper()
	provider, err := NewAnthropicProvider(AnthropicConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "claude-3-5-haiku-20241022",
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return provider
}

func TestAnthropicCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_1",
			"model":"claude-3-5-haiku-20241022",
			"content":[{"type":"text","text":"synthesized section"}],
			"stop_reason":"end_turn",
			"usage":{"input_tokens":1000,"output_tokens":500}
		}`))
	}))
	defer server.Close()

	provider := newTestAnthropic(t, server.URL)
	completion, err := provider.Complete(context.Background(), CompletionRequest{
		Prompt:    "summarize these articles",
		MaxTokens: 700,
	})
	require.NoError(t, err)
	assert.Equal(t, "synthesized section", completion.Content)
	assert.Equal(t, 1000, completion.InputTokens)
	assert.Equal(t, 500, completion.OutputTokens)
	assert.Equal(t, "end_turn", completion.FinishReason)
	// 1000 in at $0.25/M plus 500 out at $1.25/M.
	assert.InDelta(t, 0.000875, completion.CostUSD, 1e-9)

	stats := provider.Stats()
	assert.Equal(t, 1, stats.Requests)
	assert.Equal(t, 1000, stats.InputTokens)
	assert.Equal(t, 500, stats.OutputTokens)
}

func TestAnthropicRejectsEmptyPromptLocally(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer server.Close()

	provider := newTestAnthropic(t, server.URL)
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: ""})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.False(t, called, "no network call should be made for invalid input")
}

func TestAnthropicRejectsOversizePromptLocally(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer server.Close()

	provider := newTestAnthropic(t, server.URL)
	// ~250k estimated tokens against a 200k context window.
	oversize := strings.Repeat("abcd", 250_000)
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: oversize})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.False(t, called)
}

func TestAnthropicClassifiesRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"too fast"}}`))
	}))
	defer server.Close()

	provider := newTestAnthropic(t, server.URL)
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "hello"})

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 7*time.Second, rateErr.RetryAfter)
	assert.Equal(t, 1, provider.Stats().RateLimitsHit)
}

func TestAnthropicClassifiesAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	defer server.Close()

	provider := newTestAnthropic(t, server.URL)
	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "hello"})

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestAnthropicUnavailableWithoutKey(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{Model: "claude-3-5-haiku-20241022"})
	require.NoError(t, err)
	_, err = provider.Complete(context.Background(), CompletionRequest{Prompt: "hello"})
	assert.True(t, errors.Is(err, ErrAnthropicUnavailable))
}

func TestAnthropicUnknownModelRejectedAtConstruction(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", Model: "claude-imaginary"})
	var notFound *ModelNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestCalculateCostIsDeterministic(t *testing.T) {
	provider := newTestAnthropic(t, "http://unused")
	first := provider.CalculateCost(1234, 567)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, provider.CalculateCost(1234, 567))
	}
	assert.Greater(t, first, 0.0)
}
