package memory

import (
	"context"
	"errors"
	"fmt"

	"ex-snipe/pkg/otogi"
)

// Get serves otogi.MemoryService. A hit refreshes the entry's LRU position
// but not its TTL.
func (c *Cache) Get(ctx context.Context, lookup otogi.MemoryLookup) (otogi.Memory, bool, error) {
	if err := ctx.Err(); err != nil {
		return otogi.Memory{}, false, fmt.Errorf("memory get: %w", err)
	}
	if err := lookup.Validate(); err != nil {
		return otogi.Memory{}, false, fmt.Errorf("memory get: %w", err)
	}

	key := cacheKeyFromLookup(lookup)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	observation := c.observeLocked(key, now)
	if observation.Found {
		c.lru.MoveToFront(c.entries[key].element)
	}

	return observation.Previous, observation.Found, nil
}

func (c *Cache) GetReplied(ctx context.Context, event *otogi.Event) (otogi.Memory, bool, error) {
	lookup, err := otogi.LookupFor(event, otogi.LookupRoleReply)
	switch {
	case errors.Is(err, otogi.ErrNoLookupTarget):
		return otogi.Memory{}, false, nil
	case err != nil:
		return otogi.Memory{}, false, fmt.Errorf("memory get replied: %w", err)
	}

	return c.Get(ctx, lookup)
}
