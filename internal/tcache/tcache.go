// Package tcache stores finished translations keyed by block address and
// architecture pair.
package tcache

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/cpu"

	"github.com/tinyrange/xlate/internal/arch"
)

const DefaultMaxSize = 4096

// Key identifies a translation.
type Key struct {
	PC     uint64
	Source arch.Architecture
	Target arch.Architecture
}

func (k Key) String() string {
	return fmt.Sprintf("%s->%s@%#x", k.Source, k.Target, k.PC)
}

type Stats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	Failures     int64
	Replacements int64
}

// HitRate is Hits over all lookups, or zero before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry[V any] struct {
	seq uint64
	key Key
	val V
}

// Cache holds at most MaxSize values and evicts the oldest insertion first.
// Concurrent misses on one key share a single translation: callers that
// arrive while it runs wait for it and count as hits. Failed translations
// are never stored.
type Cache[V any] struct {
	maxSize int
	flight  singleflight.Group

	mu      sync.Mutex
	items   map[Key]*entry[V]
	fifo    *btree.BTreeG[*entry[V]]
	nextSeq uint64
	onEvict []func(Key)

	_ cpu.CacheLinePad

	statsMu sync.Mutex
	stats   Stats
}

// New returns a cache holding up to maxSize entries; zero or negative
// means DefaultMaxSize.
func New[V any](maxSize int) *Cache[V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache[V]{
		maxSize: maxSize,
		items:   make(map[Key]*entry[V]),
		fifo: btree.NewG(8, func(a, b *entry[V]) bool {
			return a.seq < b.seq
		}),
	}
}

func (c *Cache[V]) MaxSize() int { return c.maxSize }

// OnEvict registers fn to run after an entry leaves the cache through
// eviction or Remove. fn runs without the cache lock held.
func (c *Cache[V]) OnEvict(fn func(Key)) {
	c.mu.Lock()
	c.onEvict = append(c.onEvict, fn)
	c.mu.Unlock()
}

// GetOrTranslate returns the value stored for key, running translate on a
// miss. translate runs at most once at a time per key, and its result is
// stored only if it succeeds.
func (c *Cache[V]) GetOrTranslate(key Key, translate func() (V, error)) (V, error) {
	if v, ok := c.Peek(key); ok {
		c.count(func(s *Stats) { s.Hits++ })
		return v, nil
	}

	var leader, translated bool
	res, err, _ := c.flight.Do(key.String(), func() (any, error) {
		leader = true
		// a flight for key may have finished between Peek and Do
		if v, ok := c.Peek(key); ok {
			return v, nil
		}
		translated = true
		v, err := translate()
		if err != nil {
			return nil, err
		}
		c.insert(key, v)
		return v, nil
	})

	switch {
	case err != nil:
		c.count(func(s *Stats) {
			s.Misses++
			if leader {
				s.Failures++
			}
		})
		var zero V
		return zero, err
	case leader && translated:
		c.count(func(s *Stats) { s.Misses++ })
	default:
		c.count(func(s *Stats) { s.Hits++ })
	}
	v, _ := res.(V)
	return v, nil
}

// Peek returns the stored value for key without touching statistics.
func (c *Cache[V]) Peek(key Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		return e.val, true
	}
	var zero V
	return zero, false
}

func (c *Cache[V]) insert(key Key, v V) {
	var evicted []Key

	c.mu.Lock()
	// entries change only through Replace
	if _, ok := c.items[key]; ok {
		c.mu.Unlock()
		return
	}
	for len(c.items) >= c.maxSize {
		oldest, ok := c.fifo.DeleteMin()
		if !ok {
			break
		}
		delete(c.items, oldest.key)
		evicted = append(evicted, oldest.key)
	}
	e := &entry[V]{seq: c.nextSeq, key: key, val: v}
	c.nextSeq++
	c.items[key] = e
	c.fifo.ReplaceOrInsert(e)
	hooks := c.onEvict
	c.mu.Unlock()

	if len(evicted) == 0 {
		return
	}
	c.count(func(s *Stats) { s.Evictions += int64(len(evicted)) })
	for _, k := range evicted {
		for _, fn := range hooks {
			fn(k)
		}
	}
}

// Replace swaps the value of an existing entry, keeping its FIFO position.
// It reports false, and stores nothing, if key is not cached.
func (c *Cache[V]) Replace(key Key, v V) bool {
	c.mu.Lock()
	e, ok := c.items[key]
	if ok {
		e.val = v
	}
	c.mu.Unlock()
	if ok {
		c.count(func(s *Stats) { s.Replacements++ })
	}
	return ok
}

// Remove drops key from the cache.
func (c *Cache[V]) Remove(key Key) bool {
	c.mu.Lock()
	e, ok := c.items[key]
	if ok {
		delete(c.items, key)
		c.fifo.Delete(e)
	}
	hooks := c.onEvict
	c.mu.Unlock()

	if ok {
		for _, fn := range hooks {
			fn(key)
		}
	}
	return ok
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys lists the cached keys from oldest to newest.
func (c *Cache[V]) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.items))
	c.fifo.Ascend(func(e *entry[V]) bool {
		keys = append(keys, e.key)
		return true
	})
	return keys
}

func (c *Cache[V]) count(fn func(*Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}

func (c *Cache[V]) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}
