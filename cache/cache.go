package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/use-agent/pluck/models"
)

// entry holds a cached response with its creation timestamp.
type entry struct {
	response  models.ScrapeResponse
	createdAt time.Time
}

// Cache is an in-memory store of successful scrape responses.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Cache holding at most maxEntries responses. A background
// goroutine evicts entries older than one hour every five minutes until
// Close is called.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        time.Hour,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go c.cleanupLoop(5 * time.Minute)
	return c
}

// Key identifies an extraction by everything that changes its output.
func Key(url, selector, selectorType string, render, markdown bool) string {
	h := sha256.New()
	for _, part := range []string{
		url, selector, selectorType,
		strconv.FormatBool(render), strconv.FormatBool(markdown),
	} {
		h.Write([]byte(part))
		h.Write([]byte("|"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached response if one exists and is younger
// than maxAgeMs milliseconds. A maxAgeMs <= 0 always misses.
func (c *Cache) Get(key string, maxAgeMs int) (models.ScrapeResponse, bool) {
	if maxAgeMs <= 0 {
		return models.ScrapeResponse{}, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return models.ScrapeResponse{}, false
	}

	if c.now().Sub(e.createdAt) > time.Duration(maxAgeMs)*time.Millisecond {
		return models.ScrapeResponse{}, false
	}
	return clone(e.response), true
}

// Set stores a successful response. Failures are not cached. At capacity
// the oldest entry is evicted.
func (c *Cache) Set(key string, resp models.ScrapeResponse) {
	if !resp.Success {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.store[key] = &entry{response: clone(resp), createdAt: c.now()}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.store {
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey, oldest = k, e.createdAt
		}
	}
	delete(c.store, oldestKey)
}

// sweep drops entries older than the TTL.
func (c *Cache) sweep() {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
	c.mu.Unlock()
}

func (c *Cache) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// clone copies the element slice and attribute maps so callers can't mutate
// what is stored.
func clone(resp models.ScrapeResponse) models.ScrapeResponse {
	if resp.Content == nil {
		return resp
	}
	elems := make([]models.ExtractedElement, len(resp.Content))
	for i, el := range resp.Content {
		attrs := make(map[string]string, len(el.Attributes))
		for k, v := range el.Attributes {
			attrs[k] = v
		}
		el.Attributes = attrs
		elems[i] = el
	}
	resp.Content = elems
	return resp
}
