package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
)

type BraveConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// BraveClient queries the Brave web search API. Brave reports no relevance
// score, so one is estimated from rank, and dates arrive as relative ages
// ("2 hours ago").
type BraveClient struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func NewBraveClient(config BraveConfig) *BraveClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.search.brave.com/res/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &BraveClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		httpClient: config.HTTPClient,
	}
}

func (c *BraveClient) Name() string { return "brave" }

func (c *BraveClient) Search(ctx context.Context, query Query) ([]domain.SearchResult, error) {
	if c.apiKey == "" {
		return nil, &ProviderError{Provider: "brave", Message: "API key not configured"}
	}

	params := url.Values{}
	params.Set("q", query.Text)
	params.Set("count", strconv.Itoa(query.MaxResults))
	params.Set("text_decorations", "false")
	if freshness := braveFreshness(query.DaysBack); freshness != "" {
		params.Set("freshness", freshness)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodGet,
		c.baseURL+"/web/search?"+params.Encode(),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create brave request: %w", err)
	}
	httpRequest.Header.Set("Accept", "application/json")
	httpRequest.Header.Set("X-Subscription-Token", c.apiKey)

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, &ProviderError{Provider: "brave", Message: "search timed out"}
		}
		return nil, &ProviderError{Provider: "brave", Message: err.Error()}
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("read brave body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return nil, classifySearchHTTPError("brave", httpResponse, body)
	}

	var raw struct {
		Web struct {
			Results []struct {
				URL         string `json:"url"`
				Title       string `json:"title"`
				Description string `json:"description"`
				Age         string `json:"age"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(raw.Web.Results))
	for i, item := range raw.Web.Results {
		result := domain.SearchResult{
			URL:            item.URL,
			Title:          item.Title,
			Snippet:        item.Description,
			Source:         domain.SourceFromURL(item.URL),
			RelevanceScore: 1.0 - float64(i)*0.05,
			Rank:           i + 1,
		}
		if published := parseRelativeAge(item.Age, time.Now()); published != nil {
			result.PublishedDate = published
		}
		results = append(results, result)
	}

	return results, nil
}

// braveFreshness buckets a lookback window into Brave's freshness values.
func braveFreshness(daysBack int) string {
	switch {
	case daysBack <= 0:
		return ""
	case daysBack <= 1:
		return "pd"
	case daysBack <= 7:
		return "pw"
	case daysBack <= 30:
		return "pm"
	default:
		return ""
	}
}

// parseRelativeAge converts strings like "2 hours ago" to a timestamp.
func parseRelativeAge(age string, now time.Time) *time.Time {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(age)))
	if len(fields) < 2 {
		return nil
	}
	amount, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil
	}

	var delta time.Duration
	switch {
	case strings.HasPrefix(fields[1], "minute"):
		delta = time.Duration(amount) * time.Minute
	case strings.HasPrefix(fields[1], "hour"):
		delta = time.Duration(amount) * time.Hour
	case strings.HasPrefix(fields[1], "day"):
		delta = time.Duration(amount) * 24 * time.Hour
	case strings.HasPrefix(fields[1], "week"):
		delta = time.Duration(amount) * 7 * 24 * time.Hour
	case strings.HasPrefix(fields[1], "month"):
		delta = time.Duration(amount) * 30 * 24 * time.Hour
	default:
		return nil
	}

	published := now.Add(-delta)
	return &published
}
