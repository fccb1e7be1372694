package pipeline

import (
	"fmt"
	"strings"

	"github.com/dailyclearing/digest-back/internal/domain"
)

// RenderMarkdown formats a digest as a standalone markdown document with a
// fixed header, one block per section, and a stats footer.
func RenderMarkdown(digest *domain.Digest) string {
	parts := make([]string, 0, len(digest.Sections)+2)
	parts = append(parts, renderHeader(digest.Metadata))
	for _, section := range digest.Sections {
		parts = append(parts, renderSection(section))
	}
	parts = append(parts, renderFooter(digest.Metadata))
	return strings.Join(parts, "\n\n")
}

func renderHeader(metadata domain.DigestMetadata) string {
	return fmt.Sprintf(`# The Daily Clearing

**%s**

*Your personalized news digest*

---`, metadata.GeneratedAt.Format("January 2, 2006"))
}

func renderSection(section domain.DigestSection) string {
	summary := strings.TrimSpace(section.SectionSummary)
	// Synthesized summaries usually start with their own "## Topic" heading;
	// add one only when missing so the fallback path still renders headed.
	if !strings.HasPrefix(summary, "#") {
		summary = fmt.Sprintf("## %s\n\n%s", section.Topic, summary)
	}
	if section.CrossStoryInsights != "" {
		summary += "\n\n> " + section.CrossStoryInsights
	}
	return summary
}

func renderFooter(metadata domain.DigestMetadata) string {
	return fmt.Sprintf(`---

## Digest Stats

- **Articles Found**: %d
- **Articles Parsed**: %d
- **Articles Included**: %d
- **Topics**: %s
- **Processing Time**: %.1fs
- **Total Tokens Used**: %d
- **Estimated Cost**: $%.4f

---

*Generated by The Daily Clearing*
*%s*`,
		metadata.TotalArticlesFound,
		metadata.TotalArticlesParsed,
		metadata.TotalArticlesIncluded,
		strings.Join(metadata.TopicsCovered, ", "),
		metadata.ProcessingTimeSeconds,
		metadata.TotalTokensUsed,
		metadata.TotalCostUSD,
		metadata.GeneratedAt.Format("2006-01-02 15:04:05"),
	)
}
