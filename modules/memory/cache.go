package memory

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ex-snipe/pkg/otogi"
)

const (
	defaultMaxEntries = 10000
	defaultTTL        = 24 * time.Hour
)

// Option mutates cache configuration.
type Option func(*Cache)

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cache *Cache) {
		if logger != nil {
			cache.logger = logger
		}
	}
}

// WithMaxEntries sets the in-memory cache capacity.
func WithMaxEntries(maxEntries int) Option {
	return func(cache *Cache) {
		if maxEntries > 0 {
			cache.maxEntries = maxEntries
		}
	}
}

// WithTTL sets how long an entry can be returned without refresh.
func WithTTL(ttl time.Duration) Option {
	return func(cache *Cache) {
		if ttl > 0 {
			cache.ttl = ttl
		}
	}
}

// Cache stores the last known state of observed articles.
type Cache struct {
	logger     *slog.Logger
	maxEntries int
	ttl        time.Duration
	clock      func() time.Time

	mu       sync.Mutex
	entries  map[cacheKey]*cacheEntry
	articles map[articleRef]map[cacheKey]struct{}
	lru      *list.List
}

type cacheKey struct {
	tenantID       string
	platform       otogi.Platform
	conversationID string
	articleID      string
}

// articleRef drops the conversation so deletions that arrive without one can
// still be matched.
type articleRef struct {
	tenantID  string
	platform  otogi.Platform
	articleID string
}

type cacheEntry struct {
	memory    otogi.Memory
	expiresAt time.Time
	element   *list.Element
}

// Observation reports the cache state an event replaced.
type Observation struct {
	// Previous is the entry as it was before the event was applied.
	Previous otogi.Memory
	// Found reports whether Previous holds a cached entry.
	Found bool
}

// New creates a cache with bounded in-memory storage.
func New(options ...Option) *Cache {
	cache := &Cache{
		logger:     slog.Default(),
		maxEntries: defaultMaxEntries,
		ttl:        defaultTTL,
		clock:      time.Now,
		entries:    make(map[cacheKey]*cacheEntry),
		articles:   make(map[articleRef]map[cacheKey]struct{}),
		lru:        list.New(),
	}
	for _, option := range options {
		option(cache)
	}

	return cache
}

// Observe applies one article event and returns the state it replaced.
//
// Created articles are stored, edits swap in the post-edit snapshot and
// retractions remove the entry. Events of other kinds are ignored.
func (c *Cache) Observe(ctx context.Context, event *otogi.Event) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, fmt.Errorf("memory observe: %w", err)
	}
	if event == nil {
		return Observation{}, fmt.Errorf("memory observe: nil event")
	}

	switch event.Kind {
	case otogi.EventKindArticleCreated:
		return c.rememberCreated(event)
	case otogi.EventKindArticleEdited:
		return c.rememberEdit(event)
	case otogi.EventKindArticleRetracted:
		return c.forgetRetracted(event)
	default:
		return Observation{}, nil
	}
}

// Prune drops expired entries and returns how many were removed.
func (c *Cache) Prune() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]cacheKey, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	removed := 0
	for _, key := range keys {
		if c.isExpired(c.entries[key], now) {
			c.deleteLocked(key)
			removed++
		}
	}

	return removed
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[cacheKey]*cacheEntry)
	c.articles = make(map[articleRef]map[cacheKey]struct{})
	c.lru.Init()
}

func (c *Cache) rememberCreated(event *otogi.Event) (Observation, error) {
	lookup, err := otogi.LookupFor(event, otogi.LookupRoleArticle)
	if err != nil {
		return Observation{}, fmt.Errorf("remember created: %w", err)
	}

	now := c.now()
	createdAt := normalizeEventTime(event.OccurredAt, now)
	memory := otogi.Memory{
		TenantID:     lookup.TenantID,
		Platform:     lookup.Platform,
		Conversation: event.Conversation,
		Actor:        event.Actor,
		Article:      cloneArticle(*event.Article),
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	key := cacheKeyFromLookup(lookup)

	c.mu.Lock()
	defer c.mu.Unlock()

	observation := c.observeLocked(key, now)
	c.upsertLocked(key, memory, now)

	return observation, nil
}

func (c *Cache) rememberEdit(event *otogi.Event) (Observation, error) {
	lookup, err := otogi.LookupFor(event, otogi.LookupRoleMutation)
	if err != nil {
		return Observation{}, fmt.Errorf("remember edit: %w", err)
	}

	now := c.now()
	changedAt := mutationChangedAtOrFallback(event.Mutation, normalizeEventTime(event.OccurredAt, now))
	key := cacheKeyFromLookup(lookup)

	c.mu.Lock()
	defer c.mu.Unlock()

	observation := c.observeLocked(key, now)
	memory := otogi.Memory{
		TenantID:     lookup.TenantID,
		Platform:     lookup.Platform,
		Conversation: event.Conversation,
		Actor:        event.Actor,
		Article:      otogi.Article{ID: lookup.ArticleID},
		CreatedAt:    changedAt,
	}
	if observation.Found {
		memory = cloneMemory(observation.Previous)
	}
	if after := event.Mutation.After; after != nil {
		memory.Article.Text = after.Text
		memory.Article.Entities = cloneEntities(after.Entities)
		memory.Article.Media = cloneMediaAttachments(after.Media)
	}
	memory.UpdatedAt = changedAt
	c.upsertLocked(key, memory, now)

	return observation, nil
}

func (c *Cache) forgetRetracted(event *otogi.Event) (Observation, error) {
	if event.Mutation == nil || event.Mutation.TargetArticleID == "" {
		return Observation{}, fmt.Errorf("forget retracted: missing mutation target")
	}
	platform := event.Source.Platform
	if platform == "" {
		platform = event.Platform
	}
	key := cacheKey{
		tenantID:       event.TenantID,
		platform:       platform,
		conversationID: event.Conversation.ID,
		articleID:      event.Mutation.TargetArticleID,
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	resolved, ok := c.resolveRetractionKeyLocked(key)
	if !ok {
		return Observation{}, nil
	}
	observation := c.observeLocked(resolved, now)
	c.deleteLocked(resolved)

	return observation, nil
}

// resolveRetractionKeyLocked falls back to a unique article id match when the
// platform could not tell which conversation the deleted article lived in.
func (c *Cache) resolveRetractionKeyLocked(key cacheKey) (cacheKey, bool) {
	if _, exists := c.entries[key]; exists {
		return key, true
	}

	candidates := c.articles[articleRef{
		tenantID:  key.tenantID,
		platform:  key.platform,
		articleID: key.articleID,
	}]
	if len(candidates) != 1 {
		return cacheKey{}, false
	}
	for candidate := range candidates {
		return candidate, true
	}

	return cacheKey{}, false
}

func withClock(clock func() time.Time) Option {
	return func(cache *Cache) {
		if clock != nil {
			cache.clock = clock
		}
	}
}

var _ otogi.MemoryService = (*Cache)(nil)
