package search

import (
	"context"
	"fmt"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
)

// Query is one request against a search provider.
type Query struct {
	Text       string
	MaxResults int
	DaysBack   int
}

// Provider executes one query against an external search API and returns
// ranked results.
type Provider interface {
	Name() string
	Search(ctx context.Context, query Query) ([]domain.SearchResult, error)
}

// ValidationError marks a query rejected before any network call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid search query: " + e.Message
}

// RateLimitError marks a provider 429. RetryAfter is zero when the provider
// did not say how long to wait.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded: %s", e.Provider, e.Message)
}

// ProviderError covers auth failures and remaining 4xx/5xx responses.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
