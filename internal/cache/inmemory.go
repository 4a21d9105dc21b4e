package cache

import (
	"context"
	"sync"
	"time"
)

// InMemory is a process-local Cache used in tests and single-node deployments
// without Redis.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	docTags map[string]map[string]struct{}
	now     func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewInMemory builds an empty in-memory cache.
func NewInMemory() *InMemory {
	return &InMemory{
		entries: make(map[string]memEntry),
		docTags: make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

func (c *InMemory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *InMemory) Set(_ context.Context, key string, value []byte, ttl time.Duration, documentIDs []string) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memEntry{value: value, expiresAt: c.now().Add(ttl)}
	for _, docID := range documentIDs {
		if c.docTags[docID] == nil {
			c.docTags[docID] = make(map[string]struct{})
		}
		c.docTags[docID][key] = struct{}{}
	}
	return nil
}

func (c *InMemory) InvalidateDocument(_ context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.docTags[documentID] {
		delete(c.entries, key)
	}
	delete(c.docTags, documentID)
	return nil
}
