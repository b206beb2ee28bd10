// Package logbuffers implements the client conductor's refcounted cache of
// mapped log files. Mapping the files themselves is delegated to an
// injected Factory — this package never calls mmap — so it consumes,
// rather than owns, memory-mapped resources.
package logbuffers

import (
	"sync"
)

// Buffers is an opaque handle to a mapped log file, as produced by a
// Factory. What's inside is entirely the driver/term-buffer layer's
// concern; the cache only tracks its lifetime.
type Buffers interface {
	// Close unmaps the underlying file. Called exactly once, when the
	// cache physically releases a lingering entry.
	Close() error
}

// Factory maps a log file by path on first acquisition. It is supplied by
// the embedder (e.g. backed by the real driver's shared-memory layout);
// this package treats it as an opaque external collaborator.
type Factory interface {
	Map(registrationID int64, path string) (Buffers, error)
}

// Cached is a refcounted handle returned by Acquire.
type Cached struct {
	RegistrationID int64
	Buffers        Buffers

	mu           sync.Mutex
	refCount     int
	lastChangeNs int64
}

// RefCount returns the current reference count.
func (c *Cached) RefCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refCount
}

type lingering struct {
	cached *Cached
	sinceNs int64
}

// Cache maps registrationId -> Cached, plus an ordered lingering list of
// entries whose refcount reached zero but whose linger window (3s by
// default) hasn't elapsed.
type Cache struct {
	factory Factory

	mu        sync.Mutex
	byID      map[int64]*Cached
	lingering []lingering
}

// NewCache builds a Cache that maps new log files through factory.
func NewCache(factory Factory) *Cache {
	return &Cache{
		factory: factory,
		byID:    make(map[int64]*Cached),
	}
}

// Acquire returns the cached handle for registrationID, mapping path via
// the factory on first use and incrementing the refcount on every call.
func (c *Cache) Acquire(registrationID int64, path string) (*Cached, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.byID[registrationID]; ok {
		cached.mu.Lock()
		cached.refCount++
		cached.mu.Unlock()
		return cached, nil
	}

	buffers, err := c.factory.Map(registrationID, path)
	if err != nil {
		return nil, err
	}
	cached := &Cached{RegistrationID: registrationID, Buffers: buffers, refCount: 1}
	c.byID[registrationID] = cached
	return cached, nil
}

// Release decrements cached's refcount. At zero, the entry moves from the
// primary map to the lingering list, stamped with nowNs (monotonic).
func (c *Cache) Release(cached *Cached, nowNs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached.mu.Lock()
	cached.refCount--
	reachedZero := cached.refCount == 0
	cached.mu.Unlock()

	if !reachedZero {
		return
	}

	delete(c.byID, cached.RegistrationID)
	cached.mu.Lock()
	cached.lastChangeNs = nowNs
	cached.mu.Unlock()
	c.lingering = append(c.lingering, lingering{cached: cached, sinceNs: nowNs})
}

// CheckLingering physically closes every lingering entry whose age exceeds
// lingerNs, returning how many were released.
func (c *Cache) CheckLingering(nowNs int64, lingerNs int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.lingering[:0]
	released := 0
	for _, l := range c.lingering {
		if nowNs-l.sinceNs > lingerNs {
			_ = l.cached.Buffers.Close()
			released++
			continue
		}
		kept = append(kept, l)
	}
	c.lingering = kept
	return released
}

// DeleteAllLingeringNow physically closes every lingering entry regardless
// of age — used by the conductor's forced shutdown path, which does not wait out the linger window.
func (c *Cache) DeleteAllLingeringNow() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.lingering)
	for _, l := range c.lingering {
		_ = l.cached.Buffers.Close()
	}
	c.lingering = nil
	return n
}

// LingeringCount reports how many entries are currently lingering, for
// metrics and the "did lingering grow" check in the conductor's
// service-timeout path.
func (c *Cache) LingeringCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lingering)
}

// Len returns the number of actively-referenced (non-lingering) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}
