package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailyclearing/digest-back/internal/domain"
)

func sampleArticle(id string) *domain.ParsedArticle {
	return &domain.ParsedArticle{
		ID:        id,
		URL:       "https://example.com/" + id,
		Title:     "Cached Article",
		Content:   "Body text long enough to matter.",
		WordCount: 6,
	}
}

func TestArticleCacheRoundTripReturnsCopy(t *testing.T) {
	c := NewArticleCache(Config{TTL: time.Minute, MaxEntries: 10})
	c.Set(sampleArticle("abc"))

	first, ok := c.Get("abc")
	require.True(t, ok)
	first.Title = "mutated"

	second, ok := c.Get("abc")
	require.True(t, ok)
	assert.Equal(t, "Cached Article", second.Title)
}

func TestArticleCacheMissAndExpiry(t *testing.T) {
	c := NewArticleCache(Config{TTL: 10 * time.Millisecond, MaxEntries: 10})

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set(sampleArticle("abc"))
	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("abc")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestArticleCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewArticleCache(Config{TTL: time.Minute, MaxEntries: 3})
	for i := 0; i < 3; i++ {
		c.Set(sampleArticle(fmt.Sprintf("id-%d", i)))
		time.Sleep(time.Millisecond)
	}

	c.Set(sampleArticle("id-3"))

	_, ok := c.Get("id-0")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get("id-3")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestArticleCacheIgnoresUnidentifiedArticles(t *testing.T) {
	c := NewArticleCache(Config{})
	c.Set(nil)
	c.Set(&domain.ParsedArticle{URL: "https://example.com/no-id"})
	assert.Equal(t, 0, c.Len())
}
