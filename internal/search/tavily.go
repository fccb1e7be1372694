package search

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

	"github.com/dailyclearing/digest-back/internal/domain"
)

type TavilyConfig struct {
	APIKey      string
	BaseURL     string
	SearchDepth string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// TavilyClient queries the Tavily search API.
type TavilyClient struct {
	apiKey      string
	baseURL     string
	searchDepth string
	timeout     time.Duration
	httpClient  *http.Client
}

func NewTavilyClient(config TavilyConfig) *TavilyClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.tavily.com"
	}
	if strings.TrimSpace(config.SearchDepth) == "" {
		config.SearchDepth = "advanced"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &TavilyClient{
		apiKey:      strings.TrimSpace(config.APIKey),
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		searchDepth: config.SearchDepth,
		timeout:     config.Timeout,
		httpClient:  config.HTTPClient,
	}
}

func (c *TavilyClient) Name() string { return "tavily" }

func (c *TavilyClient) Search(ctx context.Context, query Query) ([]domain.SearchResult, error) {
	if c.apiKey == "" {
		return nil, &ProviderError{Provider: "tavily", Message: "API key not configured"}
	}

	payload := map[string]any{
		"api_key":      c.apiKey,
		"query":        query.Text,
		"max_results":  query.MaxResults,
		"search_depth": c.searchDepth,
	}
	if query.DaysBack > 0 {
		payload["days"] = query.DaysBack
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tavily payload: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+"/search",
		bytes.NewReader(encoded),
	)
	if err != nil {
		return nil, fmt.Errorf("create tavily request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, &ProviderError{Provider: "tavily", Message: "search timed out"}
		}
		return nil, &ProviderError{Provider: "tavily", Message: err.Error()}
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("read tavily body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return nil, classifySearchHTTPError("tavily", httpResponse, body)
	}

	var raw struct {
		Results []struct {
			URL           string  `json:"url"`
			Title         string  `json:"title"`
			Content       string  `json:"content"`
			Score         float64 `json:"score"`
			PublishedDate string  `json:"published_date"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(raw.Results))
	for i, item := range raw.Results {
		result := domain.SearchResult{
			URL:            item.URL,
			Title:          item.Title,
			Snippet:        item.Content,
			Source:         domain.SourceFromURL(item.URL),
			RelevanceScore: item.Score,
			Rank:           i + 1,
		}
		if item.PublishedDate != "" {
			if parsed, parseErr := time.Parse(time.RFC3339, strings.Replace(item.PublishedDate, "Z", "+00:00", 1)); parseErr == nil {
				result.PublishedDate = &parsed
			} else if parsed, parseErr := time.Parse(time.RFC3339, item.PublishedDate); parseErr == nil {
				result.PublishedDate = &parsed
			}
		}
		results = append(results, result)
	}

	return results, nil
}

func classifySearchHTTPError(provider string, response *http.Response, body []byte) error {
	message := strings.TrimSpace(string(body))
	if len(message) > 500 {
		message = message[:500]
	}

	switch response.StatusCode {
	case http.StatusTooManyRequests:
		return &RateLimitError{
			Provider:   provider,
			Message:    message,
			RetryAfter: retryAfterFromHeader(response.Header.Get("Retry-After")),
		}
	default:
		return &ProviderError{Provider: provider, StatusCode: response.StatusCode, Message: message}
	}
}

func retryAfterFromHeader(header string) time.Duration {
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
