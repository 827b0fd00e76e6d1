// Package memory keeps the last known content of recently observed articles
// in a bounded LRU cache with TTL expiry.
//
// Platforms deliver edits without the previous text and deletions without
// any content, so consumers that need pre-change state feed every article
// event through Cache.Observe and read the returned Observation. The cache
// also serves otogi.MemoryService lookups for reply context.
package memory
