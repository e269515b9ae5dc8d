package cache

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Buffer is a cached value that knows its memory footprint.
type Buffer interface {
	ByteSize() uint64
}

// Stats holds counters of cache activity.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Inserts       uint64
	Evictions     uint64
	StaleRejected uint64
}

type entry[B Buffer] struct {
	index      int
	buf        B
	size       uint64
	lastAccess uint64
	pins       int
}

// Cache maps frame indices to buffers under a byte budget.
type Cache[B Buffer] struct {
	mu         sync.Mutex
	entries    map[int]*entry[B]
	used       uint64
	budget     uint64
	playhead   int
	generation uint64
	clock      uint64
	stats      Stats
}

// New creates a cache holding at most budget bytes.
func New[B Buffer](budget uint64) *Cache[B] {
	return &Cache[B]{
		entries: make(map[int]*entry[B]),
		budget:  budget,
	}
}

// tick returns the next access marker. Caller must hold the lock.
func (c *Cache[B]) tick() uint64 {
	c.clock++
	return c.clock
}

// Get returns the buffer cached for index. It never blocks on decoding.
func (c *Cache[B]) Get(index int) (B, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[index]
	if !ok {
		c.stats.Misses++
		var zero B
		return zero, false
	}
	c.stats.Hits++
	e.lastAccess = c.tick()
	return e.buf, true
}

// Contains reports whether index is cached without touching its access
// marker.
func (c *Cache[B]) Contains(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[index]
	return ok
}

// Acquire returns the buffer cached for index and pins it. The entry cannot
// be evicted until the returned release function is called. Release is
// idempotent.
func (c *Cache[B]) Acquire(index int) (B, func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[index]
	if !ok {
		c.stats.Misses++
		var zero B
		return zero, func() {}, false
	}
	c.stats.Hits++
	e.lastAccess = c.tick()
	e.pins++

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			e.pins--
			if c.entries[e.index] == e {
				c.trimLocked()
			}
		})
	}
	return e.buf, release, true
}

// Insert stores buf for index in the current generation.
func (c *Cache[B]) Insert(index int, buf B) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(index, buf)
}

// InsertAt stores buf for index only if generation is still current. It
// returns false when the cache was invalidated since the caller read
// Generation.
func (c *Cache[B]) InsertAt(index int, buf B, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		c.stats.StaleRejected++
		logrus.WithFields(logrus.Fields{
			"function":           "Cache.InsertAt",
			"index":              index,
			"generation":         generation,
			"current_generation": c.generation,
		}).Debug("Rejected stale frame")
		return false
	}
	c.insertLocked(index, buf)
	return true
}

func (c *Cache[B]) insertLocked(index int, buf B) {
	size := buf.ByteSize()
	if e, ok := c.entries[index]; ok {
		c.used -= e.size
		e.buf = buf
		e.size = size
		e.lastAccess = c.tick()
	} else {
		c.entries[index] = &entry[B]{index: index, buf: buf, size: size, lastAccess: c.tick()}
	}
	c.used += size
	c.stats.Inserts++
	c.evictLocked(index)
}

// evictLocked evicts until the budget holds. inserted is the index that was
// just stored, or -1. Caller must hold the lock.
func (c *Cache[B]) evictLocked(inserted int) {
	if c.used <= c.budget {
		return
	}

	if e, ok := c.entries[inserted]; ok && e.size > c.budget {
		for idx, other := range c.entries {
			if idx != inserted && other.pins == 0 {
				c.removeLocked(other)
			}
		}
		logrus.WithFields(logrus.Fields{
			"function": "Cache.evict",
			"index":    inserted,
			"size":     e.size,
			"budget":   c.budget,
		}).Debug("Single frame exceeds cache budget")
		return
	}

	candidates := make([]*entry[B], 0, len(c.entries))
	for _, e := range c.entries {
		if e.pins == 0 {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := c.distance(candidates[i].index), c.distance(candidates[j].index)
		if di != dj {
			return di > dj
		}
		if candidates[i].lastAccess != candidates[j].lastAccess {
			return candidates[i].lastAccess < candidates[j].lastAccess
		}
		return candidates[i].index > candidates[j].index
	})

	evicted := 0
	for _, e := range candidates {
		if c.used <= c.budget {
			break
		}
		c.removeLocked(e)
		evicted++
	}

	if evicted > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Cache.evict",
			"evicted":  evicted,
			"playhead": c.playhead,
			"used":     c.used,
			"budget":   c.budget,
		}).Debug("Evicted frames")
	}
}

// trimLocked restores the budget after a pin is released. An unpinned buffer
// that alone exceeds the budget is kept, as it was when inserted. Caller must
// hold the lock.
func (c *Cache[B]) trimLocked() {
	if c.used <= c.budget {
		return
	}
	keep := -1
	var newest uint64
	for idx, e := range c.entries {
		if e.pins == 0 && e.size > c.budget && e.lastAccess >= newest {
			keep, newest = idx, e.lastAccess
		}
	}
	c.evictLocked(keep)
}

func (c *Cache[B]) distance(index int) int {
	d := index - c.playhead
	if d < 0 {
		return -d
	}
	return d
}

func (c *Cache[B]) removeLocked(e *entry[B]) {
	delete(c.entries, e.index)
	c.used -= e.size
	c.stats.Evictions++
}

// Remove drops index from the cache regardless of pins. A consumer holding
// the buffer keeps a valid reference.
func (c *Cache[B]) Remove(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[index]
	if !ok {
		return false
	}
	delete(c.entries, index)
	c.used -= e.size
	return true
}

// InvalidateAll drops every entry and starts a new generation.
func (c *Cache[B]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := len(c.entries)
	c.entries = make(map[int]*entry[B])
	c.used = 0
	c.generation++

	logrus.WithFields(logrus.Fields{
		"function":   "Cache.InvalidateAll",
		"dropped":    dropped,
		"generation": c.generation,
	}).Debug("Cache invalidated")
}

// Generation returns the current generation.
func (c *Cache[B]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// CachedIndices returns a sorted snapshot of the cached frame indices.
func (c *Cache[B]) CachedIndices() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	indices := make([]int, 0, len(c.entries))
	for idx := range c.entries {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// CountRange returns how many indices in [start, end] are cached.
func (c *Cache[B]) CountRange(start, end int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if end-start+1 > len(c.entries) {
		n := 0
		for idx := range c.entries {
			if idx >= start && idx <= end {
				n++
			}
		}
		return n
	}
	n := 0
	for idx := start; idx <= end; idx++ {
		if _, ok := c.entries[idx]; ok {
			n++
		}
	}
	return n
}

// SetPlayhead sets the reference index for eviction distance.
func (c *Cache[B]) SetPlayhead(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playhead = index
}

// Playhead returns the reference index for eviction distance.
func (c *Cache[B]) Playhead() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playhead
}

// SetBudget changes the byte budget and evicts if needed.
func (c *Cache[B]) SetBudget(budget uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = budget
	c.evictLocked(-1)
}

// Budget returns the byte budget.
func (c *Cache[B]) Budget() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// BytesUsed returns the bytes held by cached buffers.
func (c *Cache[B]) BytesUsed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Len returns the number of cached entries.
func (c *Cache[B]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a copy of the activity counters.
func (c *Cache[B]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
