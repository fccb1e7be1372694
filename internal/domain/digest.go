package domain

import "time"

// DigestSection holds one topic's synthesized narrative plus the articles it
// was built from. Topics yielding zero parsed articles produce no section.
type DigestSection struct {
	Topic              string          `json:"topic"`
	SectionSummary     string          `json:"section_summary"`
	Articles           []ParsedArticle `json:"articles"`
	CrossStoryInsights string          `json:"cross_story_insights,omitempty"`
}

// DigestMetadata aggregates counts and cost accounting for one run.
type DigestMetadata struct {
	DigestID              string    `json:"digest_id"`
	GeneratedAt           time.Time `json:"generated_at"`
	TopicsCovered         []string  `json:"topics_covered"`
	TotalArticlesFound    int       `json:"articles_found"`
	TotalArticlesParsed   int       `json:"articles_parsed"`
	TotalArticlesIncluded int       `json:"articles_included"`
	TotalTokensUsed       int       `json:"tokens_used"`
	TotalCostUSD          float64   `json:"cost_usd"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
}

// Digest is the final synthesized document.
// Invariant: Metadata.TotalArticlesIncluded equals the sum of section
// article counts.
type Digest struct {
	Metadata DigestMetadata  `json:"metadata"`
	Sections []DigestSection `json:"sections"`
}

// ArticleCount sums articles across sections.
func (d *Digest) ArticleCount() int {
	total := 0
	for _, section := range d.Sections {
		total += len(section.Articles)
	}
	return total
}
