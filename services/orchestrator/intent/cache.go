// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// Cache holds intent records with LRU eviction and TTL expiry.
//
// Description:
//
//	Keys are computed from the query text and the data source identity, so
//	the same question against another source is classified again. The
//	classifier folds a digest of the conversation history into the text
//	(see historyKey), so a follow-up is never answered from a record made
//	under a different conversation.
//
// Thread Safety: This type is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	key       string
	record    datatypes.IntentRecord
	expiresAt time.Time
}

// NewCache creates a cache. Non-positive values fall back to 300s and
// 1000 entries.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns a cached record if present and not expired.
func (c *Cache) Get(text string, ref datatypes.DataSourceRef) (datatypes.IntentRecord, bool) {
	key := cacheKey(text, ref)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return datatypes.IntentRecord{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return datatypes.IntentRecord{}, false
	}
	c.lru.MoveToFront(elem)
	c.hits.Add(1)
	return copyRecord(entry.record), true
}

// Set stores a record, evicting the least recently used entry at capacity.
func (c *Cache) Set(text string, ref datatypes.DataSourceRef, rec datatypes.IntentRecord) {
	key := cacheKey(text, ref)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.record = copyRecord(rec)
		entry.expiresAt = c.now().Add(c.ttl)
		c.lru.MoveToFront(elem)
		return
	}
	for c.lru.Len() >= c.maxSize {
		if back := c.lru.Back(); back != nil {
			c.removeElement(back)
		}
	}
	elem := c.lru.PushFront(&cacheEntry{key: key, record: copyRecord(rec), expiresAt: c.now().Add(c.ttl)})
	c.entries[key] = elem
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// HitRate returns hits / lookups, or 0 before any lookup.
func (c *Cache) HitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// removeElement must be called with the lock held.
func (c *Cache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.lru.Remove(elem)
}

func cacheKey(text string, ref datatypes.DataSourceRef) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte("|"))
	h.Write([]byte(ref.ID))
	h.Write([]byte("|"))
	h.Write([]byte(ref.Kind))
	return hex.EncodeToString(h.Sum(nil))
}

// historyKey returns text with a digest of history appended. Without
// history it returns text unchanged.
func historyKey(text string, history []datatypes.Message) string {
	if len(history) == 0 {
		return text
	}
	h := sha256.New()
	for _, m := range history {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return text + "\x00history:" + hex.EncodeToString(h.Sum(nil))
}

// recallKey appends a digest of the recalled questions to key. Without
// any it returns key unchanged.
func recallKey(key string, similar []datatypes.SimilarQuery) string {
	if len(similar) == 0 {
		return key
	}
	h := sha256.New()
	for _, s := range similar {
		h.Write([]byte(s.Question))
		h.Write([]byte{0})
		h.Write([]byte(s.SQL))
		h.Write([]byte{0})
	}
	return key + "\x00recall:" + hex.EncodeToString(h.Sum(nil))
}

func copyRecord(r datatypes.IntentRecord) datatypes.IntentRecord {
	out := r
	if r.SQLTerms != nil {
		out.SQLTerms = append([]string(nil), r.SQLTerms...)
	}
	if r.AnalysisTerms != nil {
		out.AnalysisTerms = append([]string(nil), r.AnalysisTerms...)
	}
	return out
}
