package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var ErrAnthropicUnavailable = errors.New("anthropic client unavailable")

const (
	anthropicAPIVersion   = "2023-06-01"
	defaultAnthropicModel = "claude-3-5-haiku-20241022"
	defaultMaxTokens      = 1024
)

type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// AnthropicProvider calls the Anthropic Messages API. It performs no retries;
// the search/synthesis callers own the backoff policy.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	model      ModelInfo
	timeout    time.Duration
	httpClient *http.Client
	recorder   statsRecorder
}

func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.anthropic.com/v1"
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = defaultAnthropicModel
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	model, ok := anthropicModels[config.Model]
	if !ok {
		return nil, &ModelNotFoundError{Provider: "anthropic", Model: config.Model}
	}

	return &AnthropicProvider{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      model,
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}, nil
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model.ID }

func (p *AnthropicProvider) Available() bool {
	return p.apiKey != ""
}

func (p *AnthropicProvider) CalculateCost(inputTokens, outputTokens int) float64 {
	return p.model.Cost(inputTokens, outputTokens)
}

func (p *AnthropicProvider) Stats() CostStats { return p.recorder.snapshot() }
func (p *AnthropicProvider) ResetStats()      { p.recorder.reset() }

func (p *AnthropicProvider) Complete(ctx context.Context, request CompletionRequest) (Completion, error) {
	if !p.Available() {
		return Completion{}, ErrAnthropicUnavailable
	}
	if err := validateRequest(request, p.model); err != nil {
		return Completion{}, err
	}
	if request.MaxTokens <= 0 {
		request.MaxTokens = defaultMaxTokens
	}

	payload := map[string]any{
		"model": p.model.ID,
		"messages": []map[string]string{
			{"role": "user", "content": request.Prompt},
		},
		"max_tokens":  request.MaxTokens,
		"temperature": request.Temperature,
	}
	if request.SystemPrompt != "" {
		payload["system"] = request.SystemPrompt
	}
	if len(request.StopSequences) > 0 {
		payload["stop_sequences"] = request.StopSequences
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal anthropic payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		p.baseURL+"/messages",
		bytes.NewReader(encoded),
	)
	if err != nil {
		return Completion{}, fmt.Errorf("create anthropic request: %w", err)
	}
	httpRequest.Header.Set("x-api-key", p.apiKey)
	httpRequest.Header.Set("anthropic-version", anthropicAPIVersion)
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := p.httpClient.Do(httpRequest)
	if err != nil {
		p.recorder.recordError(false)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return Completion{}, &ProviderError{Provider: "anthropic", Message: "request timed out"}
		}
		return Completion{}, &ProviderError{Provider: "anthropic", Message: err.Error()}
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		p.recorder.recordError(false)
		return Completion{}, fmt.Errorf("read anthropic body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return Completion{}, p.classifyHTTPError(httpResponse, body)
	}

	var raw anthropicMessagesResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		p.recorder.recordError(false)
		return Completion{}, fmt.Errorf("decode anthropic response: %w", err)
	}

	var content strings.Builder
	for _, block := range raw.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	completion := Completion{
		Content:      content.String(),
		Model:        p.model.ID,
		Provider:     "anthropic",
		InputTokens:  raw.Usage.InputTokens,
		OutputTokens: raw.Usage.OutputTokens,
		CostUSD:      p.CalculateCost(raw.Usage.InputTokens, raw.Usage.OutputTokens),
		FinishReason: raw.StopReason,
	}
	p.recorder.record(completion)
	return completion, nil
}

func (p *AnthropicProvider) classifyHTTPError(response *http.Response, body []byte) error {
	message := strings.TrimSpace(string(body))
	if len(message) > 700 {
		message = message[:700]
	}

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		p.recorder.recordError(false)
		return &AuthenticationError{Provider: "anthropic", Message: message}
	case response.StatusCode == http.StatusTooManyRequests:
		p.recorder.recordError(true)
		return &RateLimitError{
			Provider:   "anthropic",
			Message:    message,
			RetryAfter: parseRetryAfter(response.Header.Get("Retry-After")),
		}
	case response.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(message), "model"):
		p.recorder.recordError(false)
		return &ModelNotFoundError{Provider: "anthropic", Model: p.model.ID}
	default:
		p.recorder.recordError(false)
		return &ProviderError{Provider: "anthropic", StatusCode: response.StatusCode, Message: message}
	}
}

type anthropicMessagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
