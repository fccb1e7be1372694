package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dailyclearing/digest-back/internal/domain"
)

// PremiumSources is the default high-trust domain allow-list used for the
// relevance boost.
var PremiumSources = []string{
	"arxiv.org",
	"nature.com",
	"science.org",
	"arstechnica.com",
	"wired.com",
	"techcrunch.com",
	"theverge.com",
	"news.ycombinator.com",
	"github.com",
	"openai.com",
	"anthropic.com",
	"deepmind.com",
	"mit.edu",
	"stanford.edu",
	"acm.org",
	"ieee.org",
}

const (
	maxQueryLength    = 400
	maxTopicQueries   = 2 // concurrent queries per batch
	premiumBoostDelta = 0.15
)

// TopicOptions tune one topic search. PremiumSources overrides the
// orchestrator's allow-list for this run when non-empty.
type TopicOptions struct {
	MaxResults     int
	DaysBack       int
	PreferPremium  bool
	PremiumSources []string
}

type OrchestratorConfig struct {
	InterBatchDelay time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	RetryBudget     time.Duration
	PremiumSources  []string
	Logger          *log.Logger
}

// Orchestrator expands a topic into query variants, fans them out with
// bounded concurrency and backoff, deduplicates and re-ranks the merged
// results.
type Orchestrator struct {
	provider        Provider
	interBatchDelay time.Duration
	maxAttempts     int
	backoffBase     time.Duration
	retryBudget     time.Duration
	premiumSources  []string
	logger          *log.Logger

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts orchestrator-level outcomes across one run.
type Stats struct {
	Queries       int
	Results       int
	Errors        int
	RateLimitsHit int
}

func NewOrchestrator(provider Provider, config OrchestratorConfig) *Orchestrator {
	if config.InterBatchDelay <= 0 {
		config.InterBatchDelay = time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 2 * time.Second
	}
	if config.RetryBudget <= 0 {
		config.RetryBudget = 30 * time.Second
	}
	if len(config.PremiumSources) == 0 {
		config.PremiumSources = PremiumSources
	}

	return &Orchestrator{
		provider:        provider,
		interBatchDelay: config.InterBatchDelay,
		maxAttempts:     config.MaxAttempts,
		backoffBase:     config.BackoffBase,
		retryBudget:     config.RetryBudget,
		premiumSources:  config.PremiumSources,
		logger:          config.Logger,
	}
}

// SearchTopic runs all query variants for a topic and returns deduplicated,
// re-ranked results truncated to MaxResults.
func (o *Orchestrator) SearchTopic(ctx context.Context, topic domain.Topic, options TopicOptions) ([]domain.SearchResult, error) {
	if strings.TrimSpace(topic.Name) == "" {
		return nil, &ValidationError{Message: "topic name is empty"}
	}
	if len(topic.Keywords) == 0 {
		return nil, &ValidationError{Message: "topic has no keywords"}
	}

	maxResults := options.MaxResults
	if maxResults <= 0 {
		maxResults = 15
	}
	if maxResults > 50 {
		maxResults = 50
	}

	queries := QueryVariants(topic)
	perQuery := maxResults/len(queries) + 5 // extra headroom for dedup losses

	merged := make([]domain.SearchResult, 0, maxResults*2)

	for start := 0; start < len(queries); start += maxTopicQueries {
		if start > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.interBatchDelay):
			}
		}

		end := start + maxTopicQueries
		if end > len(queries) {
			end = len(queries)
		}

		// Queries run concurrently but each batch collects into a slot per
		// query, so the merge keeps query-variant order and dedup keeps the
		// first variant's entry for a repeated URL.
		batch := queries[start:end]
		slots := make([][]domain.SearchResult, len(batch))
		group, groupCtx := errgroup.WithContext(ctx)
		for i, text := range batch {
			i, text := i, text
			group.Go(func() error {
				slots[i] = o.searchWithRetry(groupCtx, Query{
					Text:       text,
					MaxResults: perQuery,
					DaysBack:   options.DaysBack,
				})
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		for _, results := range slots {
			merged = append(merged, results...)
		}
	}

	unique := dedupeByURL(merged)
	if options.PreferPremium {
		premium := options.PremiumSources
		if len(premium) == 0 {
			premium = o.premiumSources
		}
		boostPremium(unique, premium)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].RelevanceScore > unique[j].RelevanceScore
	})
	if len(unique) > maxResults {
		unique = unique[:maxResults]
	}
	for i := range unique {
		unique[i].Rank = i + 1
	}

	o.statsMu.Lock()
	o.stats.Results += len(unique)
	o.statsMu.Unlock()

	return unique, nil
}

// QueryVariants derives up to three queries for a topic: the primary keyword
// combination, a latest-news variant, and a research variant for technical
// topics.
func QueryVariants(topic domain.Topic) []string {
	keywords := topic.Keywords

	primary := topic.Name + " " + strings.Join(headOf(keywords, 3), " ")
	for _, excluded := range headOf(topic.ExcludeKeywords, 2) {
		primary += " -" + excluded
	}

	queries := []string{clampQuery(primary)}

	if len(keywords) > 0 {
		latest := fmt.Sprintf("latest %s news %s", keywords[0], firstWord(topic.Name))
		queries = append(queries, clampQuery(latest))
	}

	lowered := strings.ToLower(topic.Name)
	for _, marker := range []string{"ai", "ml", "machine learning", "science"} {
		if strings.Contains(lowered, marker) {
			research := "research paper " + strings.Join(headOf(keywords, 2), " ")
			queries = append(queries, clampQuery(research))
			break
		}
	}

	return queries
}

// searchWithRetry wraps one provider call in rate-limit-aware backoff. A
// rate-limited query retries until the attempt count or total retry budget
// is exhausted; any other error abandons the query so a single bad query
// never blocks the topic.
func (o *Orchestrator) searchWithRetry(ctx context.Context, query Query) []domain.SearchResult {
	o.statsMu.Lock()
	o.stats.Queries++
	o.statsMu.Unlock()

	deadline := time.Now().Add(o.retryBudget)

	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		results, err := o.provider.Search(ctx, query)
		if err == nil {
			return results
		}

		var rateErr *RateLimitError
		if !errors.As(err, &rateErr) {
			o.recordError(false)
			o.logf("search query abandoned query=%q err=%v", query.Text, err)
			return nil
		}
		o.recordError(true)

		wait := rateErr.RetryAfter
		if wait <= 0 {
			wait = o.backoffBase * (1 << attempt)
		}
		if time.Now().Add(wait).After(deadline) {
			o.logf("search retry budget exhausted query=%q", query.Text)
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}

	o.logf("search attempts exhausted query=%q", query.Text)
	return nil
}

// GetStats returns a snapshot of the orchestrator counters.
func (o *Orchestrator) GetStats() Stats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return o.stats
}

// ResetStats clears counters between independent runs.
func (o *Orchestrator) ResetStats() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats = Stats{}
}

// dedupeByURL keeps the first occurrence of each normalized URL.
func dedupeByURL(results []domain.SearchResult) []domain.SearchResult {
	seen := make(map[string]struct{}, len(results))
	unique := make([]domain.SearchResult, 0, len(results))
	for _, result := range results {
		key := domain.NormalizeURL(result.URL)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, result)
	}
	return unique
}

func boostPremium(results []domain.SearchResult, premiumSources []string) {
	for i := range results {
		for _, source := range premiumSources {
			if strings.Contains(results[i].URL, source) {
				results[i].RelevanceScore += premiumBoostDelta
				if results[i].RelevanceScore > 1.0 {
					results[i].RelevanceScore = 1.0
				}
				break
			}
		}
	}
}

func (o *Orchestrator) recordError(rateLimited bool) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.Errors++
	if rateLimited {
		o.stats.RateLimitsHit++
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}

func clampQuery(query string) string {
	query = strings.TrimSpace(query)
	if len(query) > maxQueryLength {
		query = query[:maxQueryLength]
	}
	return query
}

func headOf(values []string, limit int) []string {
	if len(values) <= limit {
		return values
	}
	return values[:limit]
}

func firstWord(value string) string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return value
	}
	return fields[0]
}
