package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrOpenRouterUnavailable = errors.New("openrouter client unavailable")

const defaultOpenRouterModel = "deepseek/deepseek-chat"

type OpenRouterConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	SiteURL    string
	AppName    string
}

// OpenRouterProvider calls an OpenAI-compatible chat completions endpoint.
// Like the Anthropic provider it never retries; callers decide the policy.
type OpenRouterProvider struct {
	apiKey     string
	baseURL    string
	model      ModelInfo
	timeout    time.Duration
	httpClient *http.Client
	siteURL    string
	appName    string
	recorder   statsRecorder
}

func NewOpenRouterProvider(config OpenRouterConfig) (*OpenRouterProvider, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://openrouter.ai/api/v1"
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = defaultOpenRouterModel
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if strings.TrimSpace(config.AppName) == "" {
		config.AppName = "Daily Clearing"
	}

	model, ok := openRouterModels[config.Model]
	if !ok {
		return nil, &ModelNotFoundError{Provider: "openrouter", Model: config.Model}
	}

	return &OpenRouterProvider{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      model,
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
		siteURL:    strings.TrimSpace(config.SiteURL),
		appName:    strings.TrimSpace(config.AppName),
	}, nil
}

func (p *OpenRouterProvider) Name() string  { return "openrouter" }
func (p *OpenRouterProvider) Model() string { return p.model.ID }

func (p *OpenRouterProvider) Available() bool {
	return p.apiKey != ""
}

func (p *OpenRouterProvider) CalculateCost(inputTokens, outputTokens int) float64 {
	return p.model.Cost(inputTokens, outputTokens)
}

func (p *OpenRouterProvider) Stats() CostStats { return p.recorder.snapshot() }
func (p *OpenRouterProvider) ResetStats()      { p.recorder.reset() }

func (p *OpenRouterProvider) Complete(ctx context.Context, request CompletionRequest) (Completion, error) {
	if !p.Available() {
		return Completion{}, ErrOpenRouterUnavailable
	}
	if err := validateRequest(request, p.model); err != nil {
		return Completion{}, err
	}
	if request.MaxTokens <= 0 {
		request.MaxTokens = defaultMaxTokens
	}

	messages := make([]map[string]string, 0, 2)
	if request.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": request.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": request.Prompt})

	payload := map[string]any{
		"model":       p.model.ID,
		"messages":    messages,
		"max_tokens":  request.MaxTokens,
		"temperature": request.Temperature,
	}
	if len(request.StopSequences) > 0 {
		payload["stop"] = request.StopSequences
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal openrouter payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		p.baseURL+"/chat/completions",
		bytes.NewReader(encoded),
	)
	if err != nil {
		return Completion{}, fmt.Errorf("create openrouter request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if p.siteURL != "" {
		httpRequest.Header.Set("HTTP-Referer", p.siteURL)
	}
	if p.appName != "" {
		httpRequest.Header.Set("X-Title", p.appName)
	}

	httpResponse, err := p.httpClient.Do(httpRequest)
	if err != nil {
		p.recorder.recordError(false)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return Completion{}, &ProviderError{Provider: "openrouter", Message: "request timed out"}
		}
		return Completion{}, &ProviderError{Provider: "openrouter", Message: err.Error()}
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		p.recorder.recordError(false)
		return Completion{}, fmt.Errorf("read openrouter body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return Completion{}, p.classifyHTTPError(httpResponse, body)
	}

	var raw openRouterChatResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		p.recorder.recordError(false)
		return Completion{}, fmt.Errorf("decode openrouter response: %w", err)
	}
	if len(raw.Choices) == 0 {
		p.recorder.recordError(false)
		return Completion{}, &ProviderError{Provider: "openrouter", Message: "response without choices"}
	}

	completion := Completion{
		Content:      strings.TrimSpace(raw.Choices[0].Message.Content),
		Model:        p.model.ID,
		Provider:     "openrouter",
		InputTokens:  raw.Usage.PromptTokens,
		OutputTokens: raw.Usage.CompletionTokens,
		CostUSD:      p.CalculateCost(raw.Usage.PromptTokens, raw.Usage.CompletionTokens),
		FinishReason: raw.Choices[0].FinishReason,
	}
	p.recorder.record(completion)
	return completion, nil
}

func (p *OpenRouterProvider) classifyHTTPError(response *http.Response, body []byte) error {
	message := strings.TrimSpace(string(body))
	if len(message) > 700 {
		message = message[:700]
	}

	switch response.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		p.recorder.recordError(false)
		return &AuthenticationError{Provider: "openrouter", Message: message}
	case http.StatusTooManyRequests:
		p.recorder.recordError(true)
		return &RateLimitError{
			Provider:   "openrouter",
			Message:    message,
			RetryAfter: parseRetryAfter(response.Header.Get("Retry-After")),
		}
	case http.StatusNotFound:
		p.recorder.recordError(false)
		return &ModelNotFoundError{Provider: "openrouter", Model: p.model.ID}
	default:
		p.recorder.recordError(false)
		return &ProviderError{Provider: "openrouter", StatusCode: response.StatusCode, Message: message}
	}
}

type openRouterChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
