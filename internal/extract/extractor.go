package extract

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dailyclearing/digest-back/internal/cache"
	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/llm"
)

const (
	defaultUserAgent        = "Mozilla/5.0 (compatible; DailyClearing/1.0; +https://dailyclearing.example)"
	defaultTimeout          = 30 * time.Second
	defaultMaxContentLength = 100_000
	// minSufficientLength gates the fallback chain: a strategy that yields
	// less than this hands over to the next one.
	minSufficientLength = 500
	// minAcceptableLength is the floor below which extraction counts as
	// failed outright.
	minAcceptableLength = 100
	minParagraphLength  = 80
)

type Config struct {
	UserAgent        string
	Timeout          time.Duration
	MaxContentLength int
	UseLLM           bool
	LLM              llm.Provider
	Cache            *cache.ArticleCache
	Logger           *log.Logger
	HTTPClient       *http.Client
}

// Extractor fetches a URL and extracts title/author/date/body through
// layered heuristics, optionally preferring an LLM-based pass. Failures are
// represented as nil articles, never as errors, so one bad fetch can never
// abort a batch.
type Extractor struct {
	userAgent        string
	timeout          time.Duration
	maxContentLength int
	useLLM           bool
	llm              llm.Provider
	cache            *cache.ArticleCache
	logger           *log.Logger
	httpClient       *http.Client

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts extraction outcomes across one run.
type Stats struct {
	Attempted  int
	Parsed     int
	Failed     int
	LLMParsed  int
	TotalWords int
}

func New(config Config) *Extractor {
	if strings.TrimSpace(config.UserAgent) == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = defaultMaxContentLength
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &Extractor{
		userAgent:        config.UserAgent,
		timeout:          config.Timeout,
		maxContentLength: config.MaxContentLength,
		useLLM:           config.UseLLM && config.LLM != nil,
		llm:              config.LLM,
		cache:            config.Cache,
		logger:           config.Logger,
		httpClient:       config.HTTPClient,
	}
}

// ParseArticle fetches and extracts one article. A nil return means the
// article could not be parsed; the reason is logged, not raised.
func (e *Extractor) ParseArticle(ctx context.Context, item domain.SearchResult) *domain.ParsedArticle {
	e.statsMu.Lock()
	e.stats.Attempted++
	e.statsMu.Unlock()

	if e.cache != nil {
		if cached, ok := e.cache.Get(domain.ArticleID(item.URL)); ok {
			e.statsMu.Lock()
			e.stats.Parsed++
			e.stats.TotalWords += cached.WordCount
			e.statsMu.Unlock()
			return cached
		}
	}

	html, err := e.fetch(ctx, item.URL)
	if err != nil {
		e.logf("fetch failed url=%s err=%v", item.URL, err)
		e.recordFailure()
		return nil
	}

	var article *domain.ParsedArticle
	if e.useLLM {
		article = e.llmExtract(ctx, html, item)
		if article != nil {
			e.statsMu.Lock()
			e.stats.LLMParsed++
			e.statsMu.Unlock()
		}
	}
	if article == nil {
		article = e.heuristicExtract(html, item)
	}
	if article == nil {
		e.logf("extraction yielded no usable content url=%s", item.URL)
		e.recordFailure()
		return nil
	}

	if len(article.Content) > e.maxContentLength {
		article.Content = article.Content[:e.maxContentLength]
	}
	article.Finalize()

	if e.cache != nil {
		e.cache.Set(article)
	}

	e.statsMu.Lock()
	e.stats.Parsed++
	e.stats.TotalWords += article.WordCount
	e.statsMu.Unlock()
	return article
}

// ParseArticles processes items in fixed-size concurrency windows. The
// output has the same length and order as the input, with nil placeholders
// for failures.
func (e *Extractor) ParseArticles(ctx context.Context, items []domain.SearchResult, maxConcurrent int) []*domain.ParsedArticle {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	output := make([]*domain.ParsedArticle, len(items))
	for start := 0; start < len(items); start += maxConcurrent {
		end := start + maxConcurrent
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				output[index] = e.ParseArticle(ctx, items[index])
			}(i)
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}
	return output
}

// GetStats returns a snapshot of the extraction counters.
func (e *Extractor) GetStats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// ResetStats clears counters between independent runs.
func (e *Extractor) ResetStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = Stats{}
}

func (e *Extractor) fetch(ctx context.Context, rawURL string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("User-Agent", e.userAgent)
	request.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	request.Header.Set("Accept-Language", "en-US,en;q=0.9")

	response, err := e.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("request document: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %s", response.Status)
	}

	builder := new(strings.Builder)
	buffer := make([]byte, 32*1024)
	for {
		n, readErr := response.Body.Read(buffer)
		builder.Write(buffer[:n])
		if readErr != nil {
			break
		}
		if builder.Len() > e.maxContentLength*4 {
			break
		}
	}
	return builder.String(), nil
}

// heuristicExtract runs the ordered strategy chain plus metadata extraction.
func (e *Extractor) heuristicExtract(html string, item domain.SearchResult) *domain.ParsedArticle {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logf("html parse failed url=%s err=%v", item.URL, err)
		return nil
	}

	content := extractContent(doc)
	if len(content) < minAcceptableLength {
		return nil
	}

	title := extractTitle(doc)
	if title == "" {
		title = item.Title
	}
	author := extractAuthor(doc)
	published := extractPublishedDate(doc)
	if published == nil {
		published = item.PublishedDate
	}

	article := &domain.ParsedArticle{
		URL:           item.URL,
		Title:         title,
		Content:       content,
		Author:        author,
		PublishedDate: published,
		Source:        item.Source,
		ParseQuality:  qualityScore(title, author, published, content),
	}
	return article
}

// extractContent tries each strategy in order, moving on only when the
// prior one yields insufficient content. If nothing reaches the threshold
// the longest candidate wins.
func extractContent(doc *goquery.Document) string {
	strategies := []func(*goquery.Document) string{
		articleTagContent,
		containerContent,
		paragraphSweepContent,
	}

	best := ""
	for _, strategy := range strategies {
		candidate := strings.TrimSpace(strategy(doc))
		if len(candidate) >= minSufficientLength {
			return candidate
		}
		if len(candidate) > len(best) {
			best = candidate
		}
	}
	return best
}

func articleTagContent(doc *goquery.Document) string {
	return collectParagraphs(doc.Find("article").First())
}

var containerSelectors = []string{
	"main",
	"[role=main]",
	".article-content",
	".post-content",
	".entry-content",
	".story-body",
	".content",
	"#content",
}

func containerContent(doc *goquery.Document) string {
	for _, selector := range containerSelectors {
		selection := doc.Find(selector).First()
		if selection.Length() == 0 {
			continue
		}
		if text := collectParagraphs(selection); text != "" {
			return text
		}
	}
	return ""
}

func paragraphSweepContent(doc *goquery.Document) string {
	return collectParagraphs(doc.Selection)
}

func collectParagraphs(selection *goquery.Selection) string {
	if selection == nil || selection.Length() == 0 {
		return ""
	}
	var paragraphs []string
	selection.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if len(text) >= minParagraphLength {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n\n")
}

// qualityScore is a weighted heuristic in [0,1]: metadata presence plus
// content length tiers. Used for ranking, not correctness.
func qualityScore(title, author string, published *time.Time, content string) float64 {
	score := 0.0
	if title != "" {
		score += 0.20
	}
	if author != "" {
		score += 0.15
	}
	if published != nil {
		score += 0.15
	}
	switch {
	case len(content) >= 2000:
		score += 0.50
	case len(content) >= 1000:
		score += 0.35
	case len(content) >= minSufficientLength:
		score += 0.25
	case len(content) >= minAcceptableLength:
		score += 0.10
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (e *Extractor) recordFailure() {
	e.statsMu.Lock()
	e.stats.Failed++
	e.statsMu.Unlock()
}

func (e *Extractor) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
