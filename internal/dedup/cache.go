// Package dedup suppresses repeat toasts for the same announcement id.
package dedup

import (
	"sync"
	"time"
)

const (
	DefaultWindow     = 30 * time.Second
	DefaultStaleAfter = 60 * time.Second
)

type Config struct {
	// Window is how long after a toast the same id stays suppressed.
	Window time.Duration
	// StaleAfter is the age at which entries are pruned on insert.
	StaleAfter time.Duration
	// MaxEntries caps the cache; the oldest entry is evicted first. 0 = unbounded.
	MaxEntries int
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Cache maps id to the last time a toast was shown for it. It is safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]time.Time
}

func New(cfg Config) *Cache {
	return &Cache{cfg: withDefaults(cfg), entries: map[string]time.Time{}}
}

func withDefaults(cfg Config) Config {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.StaleAfter < cfg.Window {
		cfg.StaleAfter = cfg.Window
	}
	if cfg.MaxEntries < 0 {
		cfg.MaxEntries = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// Apply swaps window sizes at runtime. Existing entries are kept.
func (c *Cache) Apply(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Now == nil {
		cfg.Now = c.cfg.Now
	}
	c.cfg = withDefaults(cfg)
}

// ShouldShow reports whether a toast for id may be shown now and, if so,
// records it. Stale entries are pruned on every insert.
func (c *Cache) ShouldShow(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Now()
	if last, ok := c.entries[id]; ok && now.Sub(last) < c.cfg.Window {
		return false
	}
	c.entries[id] = now
	c.pruneLocked(now)
	return true
}

// Len is the number of ids currently tracked.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) pruneLocked(now time.Time) {
	for id, ts := range c.entries {
		if now.Sub(ts) > c.cfg.StaleAfter {
			delete(c.entries, id)
		}
	}
	for c.cfg.MaxEntries > 0 && len(c.entries) > c.cfg.MaxEntries {
		var oldestID string
		var oldest time.Time
		for id, ts := range c.entries {
			if oldestID == "" || ts.Before(oldest) {
				oldestID, oldest = id, ts
			}
		}
		delete(c.entries, oldestID)
	}
}
