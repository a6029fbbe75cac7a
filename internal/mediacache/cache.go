// Package mediacache holds generated audio in memory just long enough for
// the messaging platform to pull it by URL. Entries expire after a fixed
// TTL; there is no caller-driven deletion and no capacity bound — payloads
// are small and live for minutes.
package mediacache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 5 * time.Minute

// Entry is one stored payload. Entries are immutable after Put.
type Entry struct {
	Payload     []byte
	ContentType string
	ExpiresAt   time.Time
}

// Cache is a TTL-bound in-memory binary store addressed by opaque ids.
type Cache struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects a time source. Expiry becomes testable without
// wall-clock waits.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(ttl time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores the payload under a freshly generated id and returns it.
// Deletion is scheduled for TTL from now; Get also evicts lazily, so an
// entry is gone after expiry whichever fires first. Ids are UUIDv4 — a
// collision would be a program fault, not a handled condition.
func (c *Cache) Put(payload []byte, contentType string) string {
	id := uuid.NewString()
	expires := c.now().Add(c.ttl)

	c.mu.Lock()
	c.entries[id] = Entry{
		Payload:     payload,
		ContentType: contentType,
		ExpiresAt:   expires,
	}
	size := len(c.entries)
	c.mu.Unlock()

	time.AfterFunc(c.ttl, func() { c.evict(id) })

	c.logger.Debug("media cached", "id", id, "bytes", len(payload), "entries", size)
	return id
}

// Get returns the entry when present and unexpired. An expired entry found
// here is deleted as a side effect, independent of the deferred timer.
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	if c.now().After(entry.ExpiresAt) {
		delete(c.entries, id)
		return Entry{}, false
	}
	return entry, true
}

// Len reports the number of live entries (expired-but-unswept included).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
