package domain

import "sort"

// Topic is a named user interest with a keyword list. Higher Priority topics
// run first and their sections lead the digest.
type Topic struct {
	Name            string   `json:"name" yaml:"name"`
	Keywords        []string `json:"keywords" yaml:"keywords"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty" yaml:"exclude_keywords"`
	Priority        int      `json:"priority" yaml:"priority"`
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	MaxArticles     int      `json:"max_articles" yaml:"max_articles"`
}

// SourcePreferences configures the premium source boost allow-list.
type SourcePreferences struct {
	Premium []string `json:"premium,omitempty" yaml:"premium"`
}

// QualityThresholds gate which parsed articles make it into the digest.
type QualityThresholds struct {
	MinParseQuality float64 `json:"min_parse_quality" yaml:"min_parse_quality"`
}

// DeliverySettings describe the notification boundary. The backend only
// triggers the webhook; rendering and transport live elsewhere.
type DeliverySettings struct {
	WebhookURL string `json:"webhook_url,omitempty" yaml:"webhook_url"`
}

// AdvancedSettings tune pipeline concurrency and lookback.
type AdvancedSettings struct {
	MaxParallelParsers  int `json:"max_parallel_parsers" yaml:"max_parallel_parsers"`
	MaxArticlesPerTopic int `json:"max_articles_per_topic" yaml:"max_articles_per_topic"`
	LookbackDays        int `json:"lookback_days" yaml:"lookback_days"`
}

// UserPreferences is the value object handed to the pipeline. Account
// management and validation are external collaborators.
type UserPreferences struct {
	Topics   []Topic           `json:"topics" yaml:"topics"`
	Sources  SourcePreferences `json:"sources,omitempty" yaml:"sources"`
	Quality  QualityThresholds `json:"quality,omitempty" yaml:"quality"`
	Delivery DeliverySettings  `json:"delivery,omitempty" yaml:"delivery"`
	Advanced AdvancedSettings  `json:"advanced,omitempty" yaml:"advanced"`
}

// EnabledTopics returns topics that should contribute digest sections,
// highest priority first. Topics sharing a priority keep their list order.
func (p UserPreferences) EnabledTopics() []Topic {
	enabled := make([]Topic, 0, len(p.Topics))
	for _, topic := range p.Topics {
		if topic.Enabled {
			enabled = append(enabled, topic)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority > enabled[j].Priority
	})
	return enabled
}
