package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dailyclearing/digest-back/internal/domain"
	"github.com/dailyclearing/digest-back/internal/llm"
)

const (
	synthesisMaxTokens   = 1500
	synthesisTemperature = 0.7
	articlePreviewChars  = 800

	crossStoryMaxTokens    = 200
	crossStoryTemperature  = 0.5
	crossStoryMaxArticles  = 8
	crossStoryPreviewChars = 200
)

const synthesisSystemPrompt = "You are a veteran Hacker News commenter known for technical depth and skeptical analysis."

// synthesizeSection asks the provider to write one topic's narrative from
// truncated article previews. Articles are embedded in search-ranked order.
func (p *Pipeline) synthesizeSection(ctx context.Context, topicName string, articles []domain.ParsedArticle) (string, error) {
	prompt := buildSynthesisPrompt(topicName, articles)

	completion, err := p.synthesizer.Complete(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: synthesisSystemPrompt,
		MaxTokens:    synthesisMaxTokens,
		Temperature:  synthesisTemperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Content), nil
}

// synthesizeCrossStoryInsights writes a short synthesis of the patterns that
// emerge across one topic's articles. A topic with fewer than two articles
// has nothing to connect and yields an empty insight.
func (p *Pipeline) synthesizeCrossStoryInsights(ctx context.Context, topicName string, articles []domain.ParsedArticle) (string, error) {
	if len(articles) < 2 {
		return "", nil
	}
	if len(articles) > crossStoryMaxArticles {
		articles = articles[:crossStoryMaxArticles]
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Based on these articles about %s, write a brief (2-3 sentence) synthesis of the key patterns or insights that emerge from looking across all of them together.\n\n", topicName)
	builder.WriteString("Focus on:\n")
	builder.WriteString("- Trends that multiple articles point to\n")
	builder.WriteString("- Contradictions or debates in the field\n")
	builder.WriteString("- Bigger picture implications\n\n")
	builder.WriteString("Articles:\n")
	for _, article := range articles {
		preview := article.Content
		if len(preview) > crossStoryPreviewChars {
			preview = preview[:crossStoryPreviewChars]
		}
		fmt.Fprintf(&builder, "- %s (%s): %s...\n", article.Title, article.Source, preview)
	}
	builder.WriteString("\nWrite a HN-style synthesis (technical, insightful, slightly skeptical):")

	completion, err := p.synthesizer.Complete(ctx, llm.CompletionRequest{
		Prompt:      builder.String(),
		MaxTokens:   crossStoryMaxTokens,
		Temperature: crossStoryTemperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Content), nil
}

func buildSynthesisPrompt(topicName string, articles []domain.ParsedArticle) string {
	var builder strings.Builder

	fmt.Fprintf(&builder, "You are writing a Hacker News-style digest section about: %s\n\n", topicName)
	builder.WriteString("Articles to synthesize:\n")
	builder.WriteString(formatArticlesForSynthesis(articles))
	builder.WriteString("\n\nWrite an engaging section that:\n")
	builder.WriteString("1. Groups related articles together\n")
	builder.WriteString("2. Uses technical, skeptical HN-style commentary\n")
	builder.WriteString("3. Focuses on \"why this matters\" and implications\n")
	builder.WriteString("4. Highlights key technical details and trade-offs\n")
	builder.WriteString("5. Avoids hype - be measured and analytical\n")
	builder.WriteString("6. Each article gets 2-3 sentences maximum\n\n")
	fmt.Fprintf(&builder, "Format:\n## %s\n\n", topicName)
	builder.WriteString("[Your synthesis of the articles in HN comment style]\n\n")
	builder.WriteString("### Article Title 1\n*Source: [source] | [reading time]*\n\n")
	builder.WriteString("[2-3 sentence HN-style summary focusing on implications and technical details]\n\n")
	builder.WriteString("[Source link]\n\n---\n\n")
	builder.WriteString("Continue for each article. Be concise but insightful.")

	return builder.String()
}

func formatArticlesForSynthesis(articles []domain.ParsedArticle) string {
	formatted := make([]string, 0, len(articles))
	for i, article := range articles {
		preview := article.Content
		if len(preview) > articlePreviewChars {
			preview = preview[:articlePreviewChars]
		}
		formatted = append(formatted, fmt.Sprintf(
			"\nArticle %d:\nTitle: %s\nSource: %s\nURL: %s\nReading Time: %d min\nContent Preview:\n%s\n",
			i+1, article.Title, article.Source, article.URL, article.ReadingTimeMinutes, preview,
		))
	}
	return strings.Join(formatted, "\n---\n")
}

// fallbackSummary is the degraded rendering used when synthesis fails for
// one topic: a plain article list instead of narrative commentary.
func fallbackSummary(topicName string, articles []domain.ParsedArticle) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "## %s\n", topicName)
	for i, article := range articles {
		fmt.Fprintf(&builder, "\n%d. **%s** (%s)\n", i+1, article.Title, article.Source)
		if article.ContentPreview != "" {
			fmt.Fprintf(&builder, "   %s\n", article.ContentPreview)
		}
		fmt.Fprintf(&builder, "   [%s](%s)\n", article.URL, article.URL)
	}
	return builder.String()
}
