// Package cache provides an hour-scoped LRU decorator for observation sources.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/couchcryptid/surf-forecast-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// CachedSource wraps an ObservationSource with an in-memory LRU cache.
// Entries are keyed by site and the current UTC hour, so a scheduled worker
// that runs several times an hour only hits the upstream once per hour.
type CachedSource struct {
	inner   domain.ObservationSource
	clock   clockwork.Clock
	metrics *observability.Metrics
	waves   *lruCache[[]domain.WaveObservation]
	winds   *lruCache[domain.WindVector]
}

// NewCachedSource creates a cache decorator around a source.
func NewCachedSource(inner domain.ObservationSource, maxEntries int, clock clockwork.Clock, metrics *observability.Metrics) *CachedSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedSource{
		inner:   inner,
		clock:   clock,
		metrics: metrics,
		waves:   newLRUCache[[]domain.WaveObservation](maxEntries),
		winds:   newLRUCache[domain.WindVector](maxEntries),
	}
}

func (c *CachedSource) Name() string { return c.inner.Name() }

func (c *CachedSource) FetchWave(ctx context.Context, site domain.Site) ([]domain.WaveObservation, error) {
	key := c.key(site)
	if waves, ok := c.waves.get(key); ok {
		c.record("wave", "hit")
		return cloneWaves(waves), nil
	}
	c.record("wave", "miss")

	waves, err := c.inner.FetchWave(ctx, site)
	if err != nil {
		return nil, err
	}
	// Only cache successes so a failed hour is retried on the next run.
	c.waves.put(key, cloneWaves(waves))
	return waves, nil
}

func (c *CachedSource) FetchWind(ctx context.Context, site domain.Site) (domain.WindVector, error) {
	key := c.key(site)
	if wind, ok := c.winds.get(key); ok {
		c.record("wind", "hit")
		return wind, nil
	}
	c.record("wind", "miss")

	wind, err := c.inner.FetchWind(ctx, site)
	if err != nil {
		return wind, err
	}
	c.winds.put(key, wind)
	return wind, nil
}

func (c *CachedSource) key(site domain.Site) string {
	return fmt.Sprintf("%s|%s", site.Key, domain.TopOfHour(c.clock.Now()).Format(time.RFC3339))
}

func (c *CachedSource) record(kind, result string) {
	if c.metrics != nil {
		c.metrics.SourceCache.WithLabelValues(kind, result).Inc()
	}
}

func cloneWaves(in []domain.WaveObservation) []domain.WaveObservation {
	out := make([]domain.WaveObservation, len(in))
	copy(out, in)
	return out
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
