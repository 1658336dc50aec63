package delivery

import (
	"sync"
	"time"
)

type dedupEntry struct {
	ready   chan struct{}
	receipt *Receipt
	err     error
	expires time.Time
}

type dedupCache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*dedupEntry
}

func newDedupCache(window time.Duration) *dedupCache {
	return &dedupCache{
		window:  window,
		entries: make(map[string]*dedupEntry),
	}
}

// _claim returns the live entry for key, or registers a new one owned by the
// caller when owned is true.
func (c *dedupCache) _claim(key string, now time.Time) (entry *dedupEntry, owned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	if e, ok := c.entries[key]; ok {
		return e, false
	}
	entry = &dedupEntry{
		ready:   make(chan struct{}),
		expires: now.Add(c.window),
	}
	c.entries[key] = entry
	return entry, true
}

func (c *dedupCache) _resolve(key string, entry *dedupEntry, receipt *Receipt, err error) {
	entry.receipt = receipt
	entry.err = err
	if err != nil {
		c.mu.Lock()
		if c.entries[key] == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
	close(entry.ready)
}
