package urlgate

import "sync"

// BlockedURLCache remembers URLs already actioned as malicious during
// the current process lifetime. It exists to avoid re-scoring known-bad
// URLs and re-writing their rules, not as a correctness-critical store:
// it is empty on every restart and false negatives after a cold start
// are acceptable.
//
// Both the proxy and the passive monitor share one instance, so all
// operations are safe under concurrent callers.
type BlockedURLCache struct {
	mu   sync.RWMutex
	urls map[string]bool
}

// NewBlockedURLCache creates an empty cache.
func NewBlockedURLCache() *BlockedURLCache {
	return &BlockedURLCache{urls: make(map[string]bool)}
}

// Contains reports whether the URL has already been blocked.
func (c *BlockedURLCache) Contains(url string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.urls[url]
}

// Add records a URL as blocked. Returns false if it was already present.
func (c *BlockedURLCache) Add(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.urls[url] {
		return false
	}
	c.urls[url] = true
	return true
}

// Len returns the number of cached URLs.
func (c *BlockedURLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.urls)
}
