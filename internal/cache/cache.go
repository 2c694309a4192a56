// Package cache provides the process-wide key/value store used by the
// election and settings read paths. Entries carry a TTL and remain
// retrievable after expiry when the caller explicitly allows stale reads,
// which keeps those paths answerable during datastore outages. The cache is
// never a source of truth: everything in it is reconstructible from
// persistence.
package cache

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Cache lookups served from a live or stale entry.",
	})
	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Cache lookups that found no usable entry.",
	})
	expirationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_expirations_total",
		Help: "Entries removed by the background sweep.",
	})
)

type entry struct {
	data         any
	created      time.Time
	lastAccessed time.Time
	expiry       time.Time // zero means never expires
	source       string
	hits         int
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits          int `json:"hits"`
	Misses        int `json:"misses"`
	TotalRequests int `json:"totalRequests"`
	Expirations   int `json:"expirations"`
	ItemCount     int `json:"itemCount"`
}

type SetOptions struct {
	TTL    time.Duration // 0 keeps the entry forever
	Source string
}

type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	defaults map[string]func() any
	stats    Stats
	done     chan struct{}
}

func New() *Cache {
	return &Cache{
		entries:  make(map[string]*entry),
		defaults: make(map[string]func() any),
	}
}

// RegisterDefault installs the safe default substituted when a nil value is
// stored under key. Keys without a registered default reject nil stores.
func (c *Cache) RegisterDefault(key string, fn func() any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults[key] = fn
}

// Get returns the live value for key. Expired entries count as misses.
func (c *Cache) Get(key string) (any, bool) {
	value, _, ok := c.Lookup(key, false)
	return value, ok
}

// Lookup returns the value for key. With allowExpired set, an expired entry
// is still returned and flagged stale; this is the datastore-outage fallback
// path.
func (c *Cache) Lookup(key string, allowExpired bool) (value any, stale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalRequests++
	item, found := c.entries[key]
	if !found {
		c.stats.Misses++
		missesTotal.Inc()
		return nil, false, false
	}

	now := time.Now()
	if !item.expiry.IsZero() && now.After(item.expiry) {
		if !allowExpired {
			c.stats.Misses++
			missesTotal.Inc()
			return nil, false, false
		}
		stale = true
	}

	c.stats.Hits++
	hitsTotal.Inc()
	item.lastAccessed = now
	item.hits++
	return item.data, stale, true
}

// Set stores value under key. A nil value is replaced by the key's
// registered default rather than caching an empty result; if the key has no
// default the store is rejected.
func (c *Cache) Set(key string, value any, opts SetOptions) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value == nil {
		fn, ok := c.defaults[key]
		if !ok {
			log.Printf("cache: refusing nil value for key %q", key)
			return false
		}
		value = fn()
	}

	now := time.Now()
	item := &entry{
		data:         value,
		created:      now,
		lastAccessed: now,
		source:       opts.Source,
	}
	if opts.TTL > 0 {
		item.expiry = now.Add(opts.TTL)
	}
	c.entries[key] = item
	return true
}

// Invalidate removes one entry immediately.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// CreatedAt reports when the entry for key was stored. Used to derive ETag
// values for conditional responses.
func (c *Cache) CreatedAt(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return item.created, true
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.stats
	snapshot.ItemCount = len(c.entries)
	return snapshot
}

// Cleanup removes expired entries. The sweep is advisory only; expiry is
// also checked on every lookup.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, item := range c.entries {
		if !item.expiry.IsZero() && now.After(item.expiry) {
			delete(c.entries, key)
			removed++
			c.stats.Expirations++
			expirationsTotal.Inc()
		}
	}
	return removed
}

// Start launches the background sweep at the given interval.
func (c *Cache) Start(interval time.Duration) {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if removed := c.Cleanup(); removed > 0 {
					log.Printf("cache: swept %d expired entries", removed)
				}
			}
		}
	}()
}

// Stop halts the background sweep. Entries are retained.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
}
