package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/llm"
)

func longParagraph(seed string) string {
	return strings.TrimSpace(strings.Repeat(seed+" word stream for testing the extraction threshold. ", 8))
}

func articlePage() string {
	return fmt.Sprintf(`<html><head>
		<title>Quantum Breakthrough | The Wire</title>
		<meta property="og:title" content="Quantum Breakthrough Announced">
		<meta name="author" content="Jane Rivers">
		<meta property="article:published_time" content="2026-08-20T09:30:00Z">
	</head><body>
		<nav><p>%s</p></nav>
		<article>
			<p>%s</p>
			<p>%s</p>
		</article>
	</body></html>`, longParagraph("navigation"), longParagraph("alpha"), longParagraph("beta"))
}

func serveHTML(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestParseArticleUsesArticleTagAndMetadata(t *testing.T) {
	server := serveHTML(t, map[string]string{"/story": articlePage()})
	extractor := New(Config{})

	article := extractor.ParseArticle(context.Background(), domain.SearchResult{
		URL:   server.URL + "/story",
		Title: "fallback title",
	})

	require.NotNil(t, article)
	assert.Equal(t, "Quantum Breakthrough Announced", article.Title)
	assert.Equal(t, "Jane Rivers", article.Author)
	require.NotNil(t, article.PublishedDate)
	assert.Equal(t, 2026, article.PublishedDate.Year())
	assert.Contains(t, article.Content, "alpha")
	assert.Contains(t, article.Content, "beta")
	assert.NotContains(t, article.Content, "navigation")
	assert.NotEmpty(t, article.ID)
	assert.GreaterOrEqual(t, article.ReadingTimeMinutes, 1)
	assert.GreaterOrEqual(t, article.ParseQuality, 0.7)
}

func TestParseArticleFallsBackToContainerStrategy(t *testing.T) {
	page := fmt.Sprintf(`<html><head><title>Container Story</title></head><body>
		<article><p>too short</p></article>
		<div class="post-content"><p>%s</p><p>%s</p></div>
	</body></html>`, longParagraph("gamma"), longParagraph("delta"))
	server := serveHTML(t, map[string]string{"/c": page})
	extractor := New(Config{})

	article := extractor.ParseArticle(context.Background(), domain.SearchResult{URL: server.URL + "/c"})

	require.NotNil(t, article)
	assert.Contains(t, article.Content, "gamma")
	assert.Equal(t, "Container Story", article.Title)
}

func TestParseArticleParagraphSweepIsLastResort(t *testing.T) {
	page := fmt.Sprintf(`<html><body>
		<div><p>%s</p></div>
		<div><p>%s</p></div>
	</body></html>`, longParagraph("epsilon"), longParagraph("zeta"))
	server := serveHTML(t, map[string]string{"/p": page})
	extractor := New(Config{})

	article := extractor.ParseArticle(context.Background(), domain.SearchResult{
		URL:   server.URL + "/p",
		Title: "Snippet Title",
	})

	require.NotNil(t, article)
	assert.Contains(t, article.Content, "epsilon")
	assert.Equal(t, "Snippet Title", article.Title)
}

func TestParseArticleReturnsNilOnHTTPError(t *testing.T) {
	server := serveHTML(t, map[string]string{})
	extractor := New(Config{})

	article := extractor.ParseArticle(context.Background(), domain.SearchResult{URL: server.URL + "/missing"})

	assert.Nil(t, article)
	assert.Equal(t, 1, extractor.GetStats().Failed)
}

func TestParseArticleReturnsNilOnThinContent(t *testing.T) {
	server := serveHTML(t, map[string]string{"/thin": `<html><body><p>hi</p></body></html>`})
	extractor := New(Config{})

	article := extractor.ParseArticle(context.Background(), domain.SearchResult{URL: server.URL + "/thin"})

	assert.Nil(t, article)
}

func TestParseArticleTruncatesToMaxContentLength(t *testing.T) {
	server := serveHTML(t, map[string]string{"/long": articlePage()})
	extractor := New(Config{MaxContentLength: 600})

	article := extractor.ParseArticle(context.Background(), domain.SearchResult{URL: server.URL + "/long"})

	require.NotNil(t, article)
	assert.LessOrEqual(t, len(article.Content), 600)
}

func TestParseArticlesPreservesOrderWithNilPlaceholders(t *testing.T) {
	server := serveHTML(t, map[string]string{
		"/a": articlePage(),
		"/c": articlePage(),
	})
	extractor := New(Config{})

	items := []domain.SearchResult{
		{URL: server.URL + "/a"},
		{URL: server.URL + "/broken"},
		{URL: server.URL + "/c"},
	}
	articles := extractor.ParseArticles(context.Background(), items, 2)

	require.Len(t, articles, 3)
	require.NotNil(t, articles[0])
	assert.Nil(t, articles[1])
	require.NotNil(t, articles[2])
	assert.Equal(t, items[0].URL, articles[0].URL)
	assert.Equal(t, items[2].URL, articles[2].URL)

	stats := extractor.GetStats()
	assert.Equal(t, 3, stats.Attempted)
	assert.Equal(t, 2, stats.Parsed)
	assert.Equal(t, 1, stats.Failed)
}

type stubLLM struct {
	response string
	err      error
	calls    int
}

func (s *stubLLM) Name() string  { return "stub" }
func (s *stubLLM) Model() string { return "stub-model" }

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (llm.Completion, error) {
	s.calls++
	if s.err != nil {
		return llm.Completion{}, s.err
	}
	return llm.Completion{Content: s.response, Model: s.Model(), Provider: s.Name()}, nil
}

func (s *stubLLM) CalculateCost(_, _ int) float64 { return 0 }
func (s *stubLLM) Stats() llm.CostStats           { return llm.CostStats{} }
func (s *stubLLM) ResetStats()                    {}

func TestParseArticlePrefersLLMExtraction(t *testing.T) {
	server := serveHTML(t, map[string]string{"/llm": articlePage()})
	stub := &stubLLM{
		response: "TITLE: Model Title\nAUTHOR: Casey Moor\nCONTENT: " + longParagraph("modelbody"),
	}
	extractor := New(Config{UseLLM: true, LLM: stub})

	article := extractor.ParseArticle(context.Background(), domain.SearchResult{URL: server.URL + "/llm"})

	require.NotNil(t, article)
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, "Model Title", article.Title)
	assert.Equal(t, "Casey Moor", article.Author)
	assert.Contains(t, article.Content, "modelbody")
	assert.InDelta(t, 0.80, article.ParseQuality, 0.001)
	assert.Equal(t, 1, extractor.GetStats().LLMParsed)
}

func TestParseArticleFallsBackWhenLLMFails(t *testing.T) {
	server := serveHTML(t, map[string]string{"/fb": articlePage()})
	stub := &stubLLM{err: errors.New("provider down")}
	extractor := New(Config{UseLLM: true, LLM: stub})

	article := extractor.ParseArticle(context.Background(), domain.SearchResult{URL: server.URL + "/fb"})

	require.NotNil(t, article)
	assert.Equal(t, 1, stub.calls)
	assert.Contains(t, article.Content, "alpha")
	assert.Equal(t, "Quantum Breakthrough Announced", article.Title)
	assert.Equal(t, 0, extractor.GetStats().LLMParsed)
}

func TestParseArticleFallsBackWhenMarkersMissing(t *testing.T) {
	server := serveHTML(t, map[string]string{"/m": articlePage()})
	stub := &stubLLM{response: "here is the article you asked for"}
	extractor := New(Config{UseLLM: true, LLM: stub})

	article := extractor.ParseArticle(context.Background(), domain.SearchResult{URL: server.URL + "/m"})

	require.NotNil(t, article)
	assert.Contains(t, article.Content, "alpha")
}

func TestParseMarkedResponse(t *testing.T) {
	title, author, content := parseMarkedResponse("TITLE: A\nAUTHOR: B\nCONTENT: body text")
	assert.Equal(t, "A", title)
	assert.Equal(t, "B", author)
	assert.Equal(t, "body text", content)

	title, author, content = parseMarkedResponse("CONTENT: body\nTITLE: A\nAUTHOR: B")
	assert.Empty(t, title)
	assert.Empty(t, author)
	assert.Empty(t, content)
}

func TestQualityScoreBounds(t *testing.T) {
	now := parseDate("2026-08-20")
	full := qualityScore("t", "a", now, strings.Repeat("x", 2500))
	assert.LessOrEqual(t, full, 1.0)
	assert.Greater(t, full, qualityScore("", "", nil, strings.Repeat("x", 150)))
}
