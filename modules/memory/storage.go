package memory

import (
	"time"

	"ex-snipe/pkg/otogi"
)

// observeLocked returns a copy of the live entry at key, dropping it
// first when expired.
func (c *Cache) observeLocked(key cacheKey, now time.Time) Observation {
	if !c.ensureNotExpiredLocked(key, now) {
		return Observation{}
	}

	return Observation{
		Previous: cloneMemory(c.entries[key].memory),
		Found:    true,
	}
}

func (c *Cache) upsertLocked(key cacheKey, memory otogi.Memory, now time.Time) {
	if entry, exists := c.entries[key]; exists {
		entry.memory = memory
		entry.expiresAt = c.expiryFrom(now)
		c.lru.MoveToFront(entry.element)
		return
	}

	c.entries[key] = &cacheEntry{
		memory:    memory,
		expiresAt: c.expiryFrom(now),
		element:   c.lru.PushFront(key),
	}
	ref := articleRefFromKey(key)
	if c.articles[ref] == nil {
		c.articles[ref] = make(map[cacheKey]struct{})
	}
	c.articles[ref][key] = struct{}{}
	c.trimToCapacityLocked()
}

func (c *Cache) ensureNotExpiredLocked(key cacheKey, now time.Time) bool {
	entry, exists := c.entries[key]
	if !exists {
		return false
	}
	if c.isExpired(entry, now) {
		c.deleteLocked(key)
		return false
	}

	return true
}

func (c *Cache) trimToCapacityLocked() {
	for len(c.entries) > c.maxEntries {
		back := c.lru.Back()
		if back == nil {
			break
		}
		oldestKey, ok := back.Value.(cacheKey)
		if !ok {
			c.lru.Remove(back)
			continue
		}
		c.deleteLocked(oldestKey)
	}
}

func (c *Cache) deleteLocked(key cacheKey) {
	entry, exists := c.entries[key]
	if !exists {
		return
	}
	c.lru.Remove(entry.element)
	delete(c.entries, key)

	ref := articleRefFromKey(key)
	delete(c.articles[ref], key)
	if len(c.articles[ref]) == 0 {
		delete(c.articles, ref)
	}
}

func (c *Cache) isExpired(entry *cacheEntry, now time.Time) bool {
	if entry == nil {
		return true
	}
	if entry.expiresAt.IsZero() {
		return false
	}

	return !now.Before(entry.expiresAt)
}

func (c *Cache) expiryFrom(now time.Time) time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}

	return now.Add(c.ttl)
}

func (c *Cache) now() time.Time {
	return c.clock().UTC()
}

func cacheKeyFromLookup(lookup otogi.MemoryLookup) cacheKey {
	return cacheKey{
		tenantID:       lookup.TenantID,
		platform:       lookup.Platform,
		conversationID: lookup.ConversationID,
		articleID:      lookup.ArticleID,
	}
}

func articleRefFromKey(key cacheKey) articleRef {
	return articleRef{
		tenantID:  key.tenantID,
		platform:  key.platform,
		articleID: key.articleID,
	}
}

func normalizeEventTime(occurredAt time.Time, fallback time.Time) time.Time {
	if occurredAt.IsZero() {
		return fallback
	}

	return occurredAt.UTC()
}

func mutationChangedAtOrFallback(mutation *otogi.ArticleMutation, fallback time.Time) time.Time {
	if mutation == nil || mutation.ChangedAt == nil || mutation.ChangedAt.IsZero() {
		return fallback
	}

	return mutation.ChangedAt.UTC()
}
