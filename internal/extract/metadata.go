package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

func extractTitle(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if title := strings.TrimSpace(content); title != "" {
			return title
		}
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		// Strip the common "Headline | Site Name" suffix.
		if idx := strings.LastIndexAny(title, "|"); idx > 10 {
			title = strings.TrimSpace(title[:idx])
		}
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

var bylinePattern = regexp.MustCompile(`(?i)\bby[\s:]+([A-Z][\w.-]+(?:\s+[A-Z][\w.-]+){0,3})`)

func extractAuthor(doc *goquery.Document) string {
	metaSelectors := []string{
		`meta[name="author"]`,
		`meta[property="article:author"]`,
		`meta[name="twitter:creator"]`,
	}
	for _, selector := range metaSelectors {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			author := strings.TrimSpace(content)
			if author != "" && !strings.HasPrefix(author, "http") && !strings.HasPrefix(author, "@") {
				return author
			}
		}
	}

	nodeSelectors := []string{`[rel="author"]`, ".author-name", ".byline", ".author"}
	for _, selector := range nodeSelectors {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if text == "" {
			continue
		}
		if match := bylinePattern.FindStringSubmatch(text); match != nil {
			return match[1]
		}
		if len(text) <= 60 {
			return strings.TrimPrefix(text, "By ")
		}
	}
	return ""
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func extractPublishedDate(doc *goquery.Document) *time.Time {
	metaSelectors := []string{
		`meta[property="article:published_time"]`,
		`meta[name="publish-date"]`,
		`meta[name="date"]`,
		`meta[itemprop="datePublished"]`,
	}
	for _, selector := range metaSelectors {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			if parsed := parseDate(content); parsed != nil {
				return parsed
			}
		}
	}

	if datetime, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		if parsed := parseDate(datetime); parsed != nil {
			return parsed
		}
	}
	if text := doc.Find("time").First().Text(); text != "" {
		if parsed := parseDate(text); parsed != nil {
			return parsed
		}
	}
	return nil
}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return &parsed
		}
	}
	return nil
}
