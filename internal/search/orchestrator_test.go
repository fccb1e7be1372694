package search

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailyclearing/digest-back/internal/domain"
)

// Query variants produced for aiTopic, in order.
const (
	aiPrimaryQuery  = "AI & Machine Learning LLM transformer"
	aiLatestQuery   = "latest LLM news AI"
	aiResearchQuery = "research paper LLM transformer"
)

// scriptedProvider pops canned responses per query text; unknown queries
// return no results. Keying by text keeps batched concurrent queries
// deterministic.
type scriptedProvider struct {
	mu        sync.Mutex
	responses map[string][]scriptedResponse
	delays    map[string]time.Duration
	errors    int
}

type scriptedResponse struct {
	results []domain.SearchResult
	err     error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Search(_ context.Context, query Query) ([]domain.SearchResult, error) {
	if delay := p.delays[query.Text]; delay > 0 {
		time.Sleep(delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	queue := p.responses[query.Text]
	if len(queue) == 0 {
		return nil, nil
	}
	response := queue[0]
	p.responses[query.Text] = queue[1:]
	if response.err != nil {
		p.errors++
	}
	return response.results, response.err
}

func result(url string, score float64) domain.SearchResult {
	return domain.SearchResult{
		URL:            url,
		Title:          "title " + url,
		Snippet:        "snippet",
		Source:         domain.SourceFromURL(url),
		RelevanceScore: score,
	}
}

func fastOrchestrator(provider Provider) *Orchestrator {
	return NewOrchestrator(provider, OrchestratorConfig{
		InterBatchDelay: time.Millisecond,
		BackoffBase:     time.Millisecond,
		RetryBudget:     50 * time.Millisecond,
	})
}

func aiTopic() domain.Topic {
	return domain.Topic{
		Name:     "AI & Machine Learning",
		Keywords: []string{"LLM", "transformer"},
		Enabled:  true,
	}
}

func TestQueryVariants(t *testing.T) {
	queries := QueryVariants(domain.Topic{
		Name:            "AI & Machine Learning",
		Keywords:        []string{"LLM", "transformer", "neural network", "extra"},
		ExcludeKeywords: []string{"crypto"},
	})
	require.Len(t, queries, 3)
	assert.Equal(t, "AI & Machine Learning LLM transformer neural network -crypto", queries[0])
	assert.Equal(t, "latest LLM news AI", queries[1])
	assert.Equal(t, "research paper LLM transformer", queries[2])
}

func TestQueryVariantsNonTechnicalTopicSkipsResearchQuery(t *testing.T) {
	queries := QueryVariants(domain.Topic{
		Name:     "Local Politics",
		Keywords: []string{"elections"},
	})
	require.Len(t, queries, 2)
}

func TestSearchTopicDeduplicatesByURL(t *testing.T) {
	shared := "https://example.com/story"
	provider := &scriptedProvider{responses: map[string][]scriptedResponse{
		aiPrimaryQuery: {{results: []domain.SearchResult{result(shared, 0.9), result("https://example.com/other", 0.5)}}},
		aiLatestQuery:  {{results: []domain.SearchResult{result(shared, 0.3)}}},
	}}

	results, err := fastOrchestrator(provider).SearchTopic(context.Background(), aiTopic(), TopicOptions{MaxResults: 10})
	require.NoError(t, err)

	var occurrences int
	for _, item := range results {
		if item.URL == shared {
			occurrences++
			// First-seen entry's fields are retained.
			assert.InDelta(t, 0.9, item.RelevanceScore, 1e-9)
		}
	}
	assert.Equal(t, 1, occurrences)
}

func TestSearchTopicDedupKeepsFirstVariantAcrossCompletionOrder(t *testing.T) {
	shared := "https://example.com/story"
	// The primary query finishes last; the merge still lists its results
	// first, so its entry survives dedup.
	provider := &scriptedProvider{
		delays: map[string]time.Duration{aiPrimaryQuery: 20 * time.Millisecond},
		responses: map[string][]scriptedResponse{
			aiPrimaryQuery: {{results: []domain.SearchResult{result(shared, 0.9)}}},
			aiLatestQuery:  {{results: []domain.SearchResult{result(shared, 0.3)}}},
		},
	}

	results, err := fastOrchestrator(provider).SearchTopic(context.Background(), aiTopic(), TopicOptions{MaxResults: 10})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.InDelta(t, 0.9, results[0].RelevanceScore, 1e-9)
}

func TestSearchTopicUsesPerRunPremiumSources(t *testing.T) {
	provider := &scriptedProvider{responses: map[string][]scriptedResponse{
		aiPrimaryQuery: {{results: []domain.SearchResult{
			result("https://example-blog.dev/post", 0.5),
			result("https://arxiv.org/abs/1234", 0.5),
		}}},
	}}

	results, err := fastOrchestrator(provider).SearchTopic(context.Background(), aiTopic(), TopicOptions{
		MaxResults:     10,
		PreferPremium:  true,
		PremiumSources: []string{"example-blog.dev"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	scores := map[string]float64{}
	for _, item := range results {
		scores[item.URL] = item.RelevanceScore
	}
	// The per-run list replaces the default allow-list entirely.
	assert.InDelta(t, 0.65, scores["https://example-blog.dev/post"], 1e-9)
	assert.InDelta(t, 0.5, scores["https://arxiv.org/abs/1234"], 1e-9)
}

func TestSearchTopicBoostsPremiumOnce(t *testing.T) {
	provider := &scriptedProvider{responses: map[string][]scriptedResponse{
		aiPrimaryQuery: {{results: []domain.SearchResult{result("https://arxiv.org/abs/1234", 0.5)}}},
		aiLatestQuery:  {{results: []domain.SearchResult{result("https://arxiv.org/abs/1234", 0.5)}}},
	}}

	results, err := fastOrchestrator(provider).SearchTopic(context.Background(), aiTopic(), TopicOptions{
		MaxResults:    10,
		PreferPremium: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.65, results[0].RelevanceScore, 1e-9)
}

func TestSearchTopicBoostIsCappedAtOne(t *testing.T) {
	provider := &scriptedProvider{responses: map[string][]scriptedResponse{
		aiPrimaryQuery: {{results: []domain.SearchResult{result("https://nature.com/a", 0.95)}}},
	}}

	results, err := fastOrchestrator(provider).SearchTopic(context.Background(), aiTopic(), TopicOptions{
		MaxResults:    5,
		PreferPremium: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.InDelta(t, 1.0, results[0].RelevanceScore, 1e-9)
}

func TestSearchTopicRetriesRateLimitThenSucceeds(t *testing.T) {
	provider := &scriptedProvider{responses: map[string][]scriptedResponse{
		aiPrimaryQuery: {
			{err: &RateLimitError{Provider: "scripted", RetryAfter: time.Millisecond}},
			{results: []domain.SearchResult{result("https://example.com/a", 0.8)}},
		},
	}}

	results, err := fastOrchestrator(provider).SearchTopic(context.Background(), aiTopic(), TopicOptions{MaxResults: 5})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchTopicAbandonsOnNonRateLimitError(t *testing.T) {
	provider := &scriptedProvider{responses: map[string][]scriptedResponse{
		aiPrimaryQuery: {
			{err: &ProviderError{Provider: "scripted", StatusCode: 500, Message: "boom"}},
			// Would succeed on retry, but non-rate-limit errors are not retried.
			{results: []domain.SearchResult{result("https://example.com/never", 0.9)}},
		},
		aiLatestQuery: {{results: []domain.SearchResult{result("https://example.com/b", 0.7)}}},
	}}

	orchestrator := fastOrchestrator(provider)
	results, err := orchestrator.SearchTopic(context.Background(), aiTopic(), TopicOptions{MaxResults: 5})
	require.NoError(t, err)
	// The failing query contributes nothing but the topic still succeeds.
	require.Len(t, results, 1)
	assert.Equal(t, "https://example.com/b", results[0].URL)
	assert.Equal(t, 1, orchestrator.GetStats().Errors)
}

func TestSearchTopicSortsByRelevanceAndTruncates(t *testing.T) {
	provider := &scriptedProvider{responses: map[string][]scriptedResponse{
		aiPrimaryQuery: {{results: []domain.SearchResult{
			result("https://a.example.com/1", 0.2),
			result("https://a.example.com/2", 0.9),
			result("https://a.example.com/3", 0.5),
		}}},
	}}

	results, err := fastOrchestrator(provider).SearchTopic(context.Background(), aiTopic(), TopicOptions{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://a.example.com/2", results[0].URL)
	assert.Equal(t, "https://a.example.com/3", results[1].URL)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
}

func TestSearchTopicRejectsInvalidTopics(t *testing.T) {
	orchestrator := fastOrchestrator(&scriptedProvider{responses: map[string][]scriptedResponse{}})

	_, err := orchestrator.SearchTopic(context.Background(), domain.Topic{Keywords: []string{"x"}}, TopicOptions{})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = orchestrator.SearchTopic(context.Background(), domain.Topic{Name: "Topic"}, TopicOptions{})
	require.ErrorAs(t, err, &validationErr)
}
