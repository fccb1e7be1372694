package domain

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// SearchResult is one ranked hit returned by a search provider. Results are
// immutable once produced; the orchestrator deduplicates them by URL.
type SearchResult struct {
	URL            string     `json:"url"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	Source         string     `json:"source"`
	PublishedDate  *time.Time `json:"published_date,omitempty"`
	RelevanceScore float64    `json:"relevance_score"`
	Rank           int        `json:"rank"`
}

// ParsedArticle is the extracted content of one search result.
type ParsedArticle struct {
	ID                 string     `json:"id"`
	URL                string     `json:"url"`
	Title              string     `json:"title"`
	Content            string     `json:"content"`
	Author             string     `json:"author,omitempty"`
	PublishedDate      *time.Time `json:"published_date,omitempty"`
	Source             string     `json:"source"`
	WordCount          int        `json:"word_count"`
	ReadingTimeMinutes int        `json:"reading_time_minutes"`
	ContentPreview     string     `json:"content_preview"`
	ParseQuality       float64    `json:"parse_quality"`
}

const previewLength = 300

// Finalize fills derived fields from the content. Word counting assumes
// whitespace-separated tokens; reading time uses 225 words per minute.
func (a *ParsedArticle) Finalize() {
	if a.ID == "" {
		a.ID = ArticleID(a.URL)
	}
	if a.Source == "" {
		a.Source = SourceFromURL(a.URL)
	}
	if a.WordCount == 0 && a.Content != "" {
		a.WordCount = len(strings.Fields(a.Content))
	}
	if a.ReadingTimeMinutes == 0 && a.WordCount > 0 {
		a.ReadingTimeMinutes = a.WordCount / 225
		if a.ReadingTimeMinutes < 1 {
			a.ReadingTimeMinutes = 1
		}
	}
	if a.ContentPreview == "" && a.Content != "" {
		preview := a.Content
		if len(preview) > previewLength {
			preview = preview[:previewLength] + "..."
		}
		a.ContentPreview = preview
	}
}

// ArticleID derives a deterministic identifier from the URL so that retries
// and caches agree on the same article.
func ArticleID(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:16]
}

// SourceFromURL extracts the host without a leading www prefix.
func SourceFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return strings.TrimPrefix(parsed.Host, "www.")
}

// NormalizeURL produces the deduplication key for search results: lowercase
// scheme/host, no fragment, no trailing slash.
func NormalizeURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	parsed.Fragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	normalized := parsed.String()
	return strings.TrimSuffix(normalized, "/")
}
