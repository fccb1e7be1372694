package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
)

var mockSources = []string{"arxiv.org", "techcrunch.com", "arstechnica.com", "wired.com", "nature.com"}

// MockProvider generates deterministic results for development runs without
// a search API key.
type MockProvider struct{}

func (MockProvider) Name() string { return "mock" }

func (MockProvider) Search(_ context.Context, query Query) ([]domain.SearchResult, error) {
	count := query.MaxResults
	if count > 10 {
		count = 10
	}

	slug := strings.ReplaceAll(truncate(query.Text, 20), " ", "-")
	results := make([]domain.SearchResult, 0, count)
	for i := 0; i < count; i++ {
		source := mockSources[i%len(mockSources)]
		published := time.Now().Add(-time.Duration(i*2) * time.Hour)
		results = append(results, domain.SearchResult{
			URL:            fmt.Sprintf("https://%s/article/%d-%s", source, i+1, slug),
			Title:          fmt.Sprintf("Mock Article %d: %s", i+1, truncate(query.Text, 50)),
			Snippet:        fmt.Sprintf("This is a mock search result about %s.", query.Text),
			Source:         source,
			PublishedDate:  &published,
			RelevanceScore: 1.0 - float64(i)*0.08,
			Rank:           i + 1,
		})
	}
	return results, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
