package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/extract"
	"github.com/dailyclearing/digest-back/internal/llm"
	"github.com/dailyclearing/digest-back/internal/search"
)

const (
	defaultMaxArticlesPerTopic  = 5
	defaultMaxConcurrentParsers = 5
	defaultLookbackDays         = 7
)

// Update is one progress snapshot emitted between stages. Observers receive
// updates in order; counts only ever grow within a run.
type Update struct {
	Status           domain.JobStatus
	CurrentTopic     string
	ArticlesFound    int
	ArticlesParsed   int
	ArticlesAnalyzed int
}

// ProgressFunc consumes stage updates. A nil observer is valid.
type ProgressFunc func(ctx context.Context, update Update)

// Options tune one generation run.
type Options struct {
	MaxArticlesPerTopic  int
	MaxConcurrentParsers int
	LookbackDays         int
}

// RunStats aggregates provider accounting for one run.
type RunStats struct {
	Search        search.Stats  `json:"search"`
	Extraction    extract.Stats `json:"extraction"`
	Synthesis     llm.CostStats `json:"synthesis"`
	TokensUsed    int           `json:"tokens_used"`
	CostUSD       float64       `json:"cost_usd"`
	ElapsedSecs   float64       `json:"elapsed_seconds"`
	TopicsSkipped []string      `json:"topics_skipped,omitempty"`
}

// Result is a completed generation run.
type Result struct {
	Digest   *domain.Digest
	Markdown string
	Stats    RunStats
}

// Pipeline composes search, extraction, and synthesis into one digest run.
// A run fails only on unrecoverable errors; individual topics degrade
// gracefully and are skipped when they contribute nothing usable.
type Pipeline struct {
	search      *search.Orchestrator
	extractor   *extract.Extractor
	synthesizer llm.Provider
	logger      *log.Logger
	now         func() time.Time
}

type Config struct {
	Search      *search.Orchestrator
	Extractor   *extract.Extractor
	Synthesizer llm.Provider
	Logger      *log.Logger
}

func New(config Config) (*Pipeline, error) {
	if config.Search == nil {
		return nil, errors.New("pipeline: search orchestrator is required")
	}
	if config.Extractor == nil {
		return nil, errors.New("pipeline: content extractor is required")
	}
	if config.Synthesizer == nil {
		return nil, errors.New("pipeline: synthesis provider is required")
	}
	return &Pipeline{
		search:      config.Search,
		extractor:   config.Extractor,
		synthesizer: config.Synthesizer,
		logger:      config.Logger,
		now:         time.Now,
	}, nil
}

// topicRun carries one topic's intermediate state between stages.
type topicRun struct {
	topic    domain.Topic
	found    []domain.SearchResult
	parsed   []domain.ParsedArticle
	included []domain.ParsedArticle
}

// Generate runs the full pipeline for one set of preferences. Section order
// follows topic priority (highest first), not completion order.
func (p *Pipeline) Generate(ctx context.Context, preferences domain.UserPreferences, options Options, progress ProgressFunc) (*Result, error) {
	started := p.now()
	topics := preferences.EnabledTopics()
	if len(topics) == 0 {
		return nil, errors.New("pipeline: no enabled topics in preferences")
	}
	applyDefaults(&options, preferences)

	p.search.ResetStats()
	p.extractor.ResetStats()
	synthesisBase := p.synthesizer.Stats()

	runs := make([]*topicRun, 0, len(topics))
	for _, topic := range topics {
		runs = append(runs, &topicRun{topic: topic})
	}

	totalFound, err := p.searchStage(ctx, runs, preferences, options, progress)
	if err != nil {
		return nil, err
	}

	totalParsed := p.parseStage(ctx, runs, options, totalFound, progress)

	p.analyzeStage(ctx, runs, preferences.Quality, options, totalFound, totalParsed, progress)

	sections, skipped, err := p.synthesizeStage(ctx, runs, totalFound, totalParsed, progress)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, errors.New("pipeline: no topic produced any usable articles")
	}

	digest := p.assembleDigest(sections, runs, totalFound, totalParsed, synthesisBase, started)
	markdown := RenderMarkdown(digest)

	p.emit(ctx, progress, Update{
		Status:           domain.JobStatusComplete,
		ArticlesFound:    totalFound,
		ArticlesParsed:   totalParsed,
		ArticlesAnalyzed: totalParsed,
	})

	stats := RunStats{
		Search:        p.search.GetStats(),
		Extraction:    p.extractor.GetStats(),
		Synthesis:     statsDelta(synthesisBase, p.synthesizer.Stats()),
		TokensUsed:    digest.Metadata.TotalTokensUsed,
		CostUSD:       digest.Metadata.TotalCostUSD,
		ElapsedSecs:   digest.Metadata.ProcessingTimeSeconds,
		TopicsSkipped: skipped,
	}

	return &Result{Digest: digest, Markdown: markdown, Stats: stats}, nil
}

func (p *Pipeline) searchStage(ctx context.Context, runs []*topicRun, preferences domain.UserPreferences, options Options, progress ProgressFunc) (int, error) {
	totalFound := 0
	for _, run := range runs {
		p.emit(ctx, progress, Update{
			Status:        domain.JobStatusSearching,
			CurrentTopic:  run.topic.Name,
			ArticlesFound: totalFound,
		})

		maxResults := run.topic.MaxArticles
		if maxResults <= 0 {
			maxResults = options.MaxArticlesPerTopic
		}
		// Over-fetch so quality filtering still fills the topic quota.
		results, err := p.search.SearchTopic(ctx, run.topic, search.TopicOptions{
			MaxResults:     maxResults * 2,
			DaysBack:       options.LookbackDays,
			PreferPremium:  true,
			PremiumSources: preferences.Sources.Premium,
		})
		if err != nil {
			var validationErr *search.ValidationError
			if errors.As(err, &validationErr) {
				p.logf("skipping invalid topic %q: %v", run.topic.Name, err)
				continue
			}
			return 0, fmt.Errorf("search topic %q: %w", run.topic.Name, err)
		}

		run.found = results
		totalFound += len(results)
		p.logf("topic %q found %d results", run.topic.Name, len(results))
	}
	return totalFound, nil
}

func (p *Pipeline) parseStage(ctx context.Context, runs []*topicRun, options Options, totalFound int, progress ProgressFunc) int {
	totalParsed := 0
	for _, run := range runs {
		if len(run.found) == 0 {
			continue
		}
		p.emit(ctx, progress, Update{
			Status:         domain.JobStatusFetching,
			CurrentTopic:   run.topic.Name,
			ArticlesFound:  totalFound,
			ArticlesParsed: totalParsed,
		})

		parsed := p.extractor.ParseArticles(ctx, run.found, options.MaxConcurrentParsers)
		for _, article := range parsed {
			if article != nil {
				run.parsed = append(run.parsed, *article)
			}
		}
		totalParsed += len(run.parsed)

		p.emit(ctx, progress, Update{
			Status:         domain.JobStatusParsing,
			CurrentTopic:   run.topic.Name,
			ArticlesFound:  totalFound,
			ArticlesParsed: totalParsed,
		})
		p.logf("topic %q parsed %d/%d articles", run.topic.Name, len(run.parsed), len(run.found))
	}
	return totalParsed
}

// analyzeStage applies the quality gate and per-topic quota. Articles keep
// their search-ranked order; the gate drops, never reorders.
func (p *Pipeline) analyzeStage(ctx context.Context, runs []*topicRun, quality domain.QualityThresholds, options Options, totalFound, totalParsed int, progress ProgressFunc) {
	analyzed := 0
	for _, run := range runs {
		quota := run.topic.MaxArticles
		if quota <= 0 {
			quota = options.MaxArticlesPerTopic
		}
		for _, article := range run.parsed {
			analyzed++
			p.emit(ctx, progress, Update{
				Status:           domain.JobStatusAnalyzing,
				CurrentTopic:     run.topic.Name,
				ArticlesFound:    totalFound,
				ArticlesParsed:   totalParsed,
				ArticlesAnalyzed: analyzed,
			})

			if article.ParseQuality < quality.MinParseQuality {
				p.logf("dropping low-quality article %q score=%.2f", article.URL, article.ParseQuality)
				continue
			}
			if len(run.included) >= quota {
				continue
			}
			run.included = append(run.included, article)
		}
	}
}

func (p *Pipeline) synthesizeStage(ctx context.Context, runs []*topicRun, totalFound, totalParsed int, progress ProgressFunc) ([]domain.DigestSection, []string, error) {
	var sections []domain.DigestSection
	var skipped []string

	for _, run := range runs {
		if len(run.included) == 0 {
			skipped = append(skipped, run.topic.Name)
			p.logf("topic %q contributed no usable articles, skipping", run.topic.Name)
			continue
		}
		p.emit(ctx, progress, Update{
			Status:           domain.JobStatusSynthesizing,
			CurrentTopic:     run.topic.Name,
			ArticlesFound:    totalFound,
			ArticlesParsed:   totalParsed,
			ArticlesAnalyzed: totalParsed,
		})

		summary, err := p.synthesizeSection(ctx, run.topic.Name, run.included)
		if err != nil {
			if isUnrecoverable(err) {
				return nil, nil, fmt.Errorf("synthesize topic %q: %w", run.topic.Name, err)
			}
			p.logf("synthesis failed for topic %q, using fallback summary: %v", run.topic.Name, err)
			summary = fallbackSummary(run.topic.Name, run.included)
		}

		insights, err := p.synthesizeCrossStoryInsights(ctx, run.topic.Name, run.included)
		if err != nil {
			if isUnrecoverable(err) {
				return nil, nil, fmt.Errorf("cross-story synthesis for topic %q: %w", run.topic.Name, err)
			}
			p.logf("cross-story synthesis failed for topic %q, omitting insights: %v", run.topic.Name, err)
			insights = ""
		}

		sections = append(sections, domain.DigestSection{
			Topic:              run.topic.Name,
			SectionSummary:     summary,
			Articles:           run.included,
			CrossStoryInsights: insights,
		})
	}
	return sections, skipped, nil
}

func (p *Pipeline) assembleDigest(sections []domain.DigestSection, runs []*topicRun, totalFound, totalParsed int, synthesisBase llm.CostStats, started time.Time) *domain.Digest {
	covered := make([]string, 0, len(sections))
	included := 0
	for _, section := range sections {
		covered = append(covered, section.Topic)
		included += len(section.Articles)
	}

	synthesis := statsDelta(synthesisBase, p.synthesizer.Stats())
	generatedAt := p.now()

	return &domain.Digest{
		Metadata: domain.DigestMetadata{
			DigestID:              generatedAt.Format("2006-01-02") + "-" + uuid.NewString()[:8],
			GeneratedAt:           generatedAt,
			TopicsCovered:         covered,
			TotalArticlesFound:    totalFound,
			TotalArticlesParsed:   totalParsed,
			TotalArticlesIncluded: included,
			TotalTokensUsed:       synthesis.InputTokens + synthesis.OutputTokens,
			TotalCostUSD:          synthesis.CostUSD,
			ProcessingTimeSeconds: generatedAt.Sub(started).Seconds(),
		},
		Sections: sections,
	}
}

// isUnrecoverable classifies synthesis failures that must abort the run
// instead of degrading one topic. Bad credentials will fail every topic the
// same way, so there is no point continuing.
func isUnrecoverable(err error) bool {
	var authErr *llm.AuthenticationError
	var modelErr *llm.ModelNotFoundError
	return errors.As(err, &authErr) || errors.As(err, &modelErr)
}

func applyDefaults(options *Options, preferences domain.UserPreferences) {
	if options.MaxArticlesPerTopic <= 0 {
		options.MaxArticlesPerTopic = preferences.Advanced.MaxArticlesPerTopic
	}
	if options.MaxArticlesPerTopic <= 0 {
		options.MaxArticlesPerTopic = defaultMaxArticlesPerTopic
	}
	if options.MaxConcurrentParsers <= 0 {
		options.MaxConcurrentParsers = preferences.Advanced.MaxParallelParsers
	}
	if options.MaxConcurrentParsers <= 0 {
		options.MaxConcurrentParsers = defaultMaxConcurrentParsers
	}
	if options.LookbackDays <= 0 {
		options.LookbackDays = preferences.Advanced.LookbackDays
	}
	if options.LookbackDays <= 0 {
		options.LookbackDays = defaultLookbackDays
	}
}

func statsDelta(before, after llm.CostStats) llm.CostStats {
	return llm.CostStats{
		Requests:      after.Requests - before.Requests,
		InputTokens:   after.InputTokens - before.InputTokens,
		OutputTokens:  after.OutputTokens - before.OutputTokens,
		CostUSD:       after.CostUSD - before.CostUSD,
		Errors:        after.Errors - before.Errors,
		RateLimitsHit: after.RateLimitsHit - before.RateLimitsHit,
	}
}

func (p *Pipeline) emit(ctx context.Context, progress ProgressFunc, update Update) {
	if progress != nil {
		progress(ctx, update)
	}
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
