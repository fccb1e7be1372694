package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/dailyclearing/digest-back/internal/domain"
)

type entry struct {
	article   domain.ParsedArticle
	createdAt time.Time
	expiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// ArticleCache keeps recently parsed articles keyed by their deterministic
// id, so a retried run does not refetch pages it already extracted. Entries
// expire after the TTL; the oldest entry is evicted when the cache is full.
type ArticleCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
}

func NewArticleCache(config Config) *ArticleCache {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	return &ArticleCache{
		entries:    make(map[string]entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

// Get returns a copy of the cached article for the id, if still fresh.
func (c *ArticleCache) Get(id string) (*domain.ParsedArticle, bool) {
	c.mu.RLock()
	cached, exists := c.entries[id]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if time.Now().UTC().After(cached.expiresAt) {
		c.mu.Lock()
		delete(c.entries, id)
		c.mu.Unlock()
		return nil, false
	}

	clone := cached.article
	return &clone, true
}

func (c *ArticleCache) Set(article *domain.ParsedArticle) {
	if article == nil || article.ID == "" {
		return
	}
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[article.ID] = entry{
		article:   *article,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
}

func (c *ArticleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ArticleCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key       string
		createdAt time.Time
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, createdAt: value.createdAt})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].createdAt.Before(pairs[j].createdAt)
	})
	delete(c.entries, pairs[0].key)
}
