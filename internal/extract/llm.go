package extract

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/llm"
)

const (
	llmPromptTextLimit = 8000
	llmExtractQuality  = 0.80
)

const llmExtractSystem = "You extract article content from web page text. " +
	"Respond with exactly three sections, each on its own lines: " +
	"TITLE: the headline, AUTHOR: the byline or Unknown, CONTENT: the full article body. " +
	"Do not add commentary."

// llmExtract asks the provider to pull title/author/content out of the page
// text in one shot. Any failure (request error, missing markers, thin
// content) returns nil and the caller falls back to the heuristic path.
func (e *Extractor) llmExtract(ctx context.Context, html string, item domain.SearchResult) *domain.ParsedArticle {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	doc.Find("script, style, nav, footer, iframe").Remove()
	pageText := strings.Join(strings.Fields(doc.Text()), " ")
	if len(pageText) > llmPromptTextLimit {
		pageText = pageText[:llmPromptTextLimit]
	}
	if len(pageText) < minAcceptableLength {
		return nil
	}

	prompt := "Page URL: " + item.URL + "\n\nPage text:\n" + pageText
	completion, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: llmExtractSystem,
		MaxTokens:    4096,
		Temperature:  0,
	})
	if err != nil {
		e.logf("llm extraction failed url=%s err=%v", item.URL, err)
		return nil
	}

	title, author, content := parseMarkedResponse(completion.Content)
	if len(content) < minAcceptableLength {
		return nil
	}
	if title == "" {
		title = item.Title
	}
	if strings.EqualFold(author, "unknown") {
		author = ""
	}

	published := extractPublishedDate(doc)
	if published == nil {
		published = item.PublishedDate
	}

	return &domain.ParsedArticle{
		URL:           item.URL,
		Title:         title,
		Content:       content,
		Author:        author,
		PublishedDate: published,
		Source:        item.Source,
		ParseQuality:  llmExtractQuality,
	}
}

// parseMarkedResponse splits a TITLE:/AUTHOR:/CONTENT: response. Markers
// must appear in order; everything after CONTENT: is the body.
func parseMarkedResponse(response string) (title, author, content string) {
	titleIdx := strings.Index(response, "TITLE:")
	authorIdx := strings.Index(response, "AUTHOR:")
	contentIdx := strings.Index(response, "CONTENT:")
	if titleIdx < 0 || authorIdx < 0 || contentIdx < 0 || !(titleIdx < authorIdx && authorIdx < contentIdx) {
		return "", "", ""
	}

	title = strings.TrimSpace(response[titleIdx+len("TITLE:") : authorIdx])
	author = strings.TrimSpace(response[authorIdx+len("AUTHOR:") : contentIdx])
	content = strings.TrimSpace(response[contentIdx+len("CONTENT:"):])
	return title, author, content
}
