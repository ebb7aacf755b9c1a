package ginseng

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// CacheStats reports the counters an Environment's template cache has
// accumulated since creation.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// templateCache is the Environment's parsed-template store. A size of 0
// disables caching: Get always misses and Put is a no-op, matching the
// `cache_size` option's "0 disables" contract.
type templateCache struct {
	mu  sync.RWMutex
	lru *lru.Cache[string, *Template]

	hits      int64
	misses    int64
	evictions int64
}

// newTemplateCache builds a cache holding up to size parsed templates.
// size <= 0 means caching is disabled entirely.
func newTemplateCache(size int) *templateCache {
	tc := &templateCache{}
	if size <= 0 {
		return tc
	}
	l, err := lru.NewWithEvict[string, *Template](size, func(key string, value *Template) {
		atomic.AddInt64(&tc.evictions, 1)
	})
	if err != nil {
		// size was validated above; NewWithEvict only errors on size <= 0.
		return tc
	}
	tc.lru = l
	return tc
}

func (tc *templateCache) enabled() bool {
	return tc.lru != nil
}

func (tc *templateCache) Get(name string) (*Template, bool) {
	if !tc.enabled() {
		atomic.AddInt64(&tc.misses, 1)
		return nil, false
	}
	tc.mu.RLock()
	tmpl, ok := tc.lru.Get(name)
	tc.mu.RUnlock()
	if ok {
		atomic.AddInt64(&tc.hits, 1)
	} else {
		atomic.AddInt64(&tc.misses, 1)
	}
	return tmpl, ok
}

func (tc *templateCache) Put(name string, tmpl *Template) {
	if !tc.enabled() {
		return
	}
	tc.mu.Lock()
	tc.lru.Add(name, tmpl)
	tc.mu.Unlock()
}

func (tc *templateCache) Remove(name string) {
	if !tc.enabled() {
		return
	}
	tc.mu.Lock()
	tc.lru.Remove(name)
	tc.mu.Unlock()
}

func (tc *templateCache) Clear() {
	if !tc.enabled() {
		return
	}
	tc.mu.Lock()
	tc.lru.Purge()
	tc.mu.Unlock()
}

func (tc *templateCache) Len() int {
	if !tc.enabled() {
		return 0
	}
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.lru.Len()
}

func (tc *templateCache) Stats() CacheStats {
	hits := atomic.LoadInt64(&tc.hits)
	misses := atomic.LoadInt64(&tc.misses)
	evictions := atomic.LoadInt64(&tc.evictions)

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Hits:      hits,
		Misses:    misses,
		Evictions: evictions,
		HitRate:   hitRate,
	}
}

// cacheCollector adapts templateCache's counters to a Prometheus Collector
// so an embedding application can register it alongside its own metrics.
type cacheCollector struct {
	cache *templateCache

	hitsDesc      *prometheus.Desc
	missesDesc    *prometheus.Desc
	evictionsDesc *prometheus.Desc
	sizeDesc      *prometheus.Desc
}

func newCacheCollector(cache *templateCache) *cacheCollector {
	return &cacheCollector{
		cache:         cache,
		hitsDesc:      prometheus.NewDesc("ginseng_template_cache_hits_total", "Template cache hits.", nil, nil),
		missesDesc:    prometheus.NewDesc("ginseng_template_cache_misses_total", "Template cache misses.", nil, nil),
		evictionsDesc: prometheus.NewDesc("ginseng_template_cache_evictions_total", "Template cache evictions.", nil, nil),
		sizeDesc:      prometheus.NewDesc("ginseng_template_cache_size", "Templates currently held in the cache.", nil, nil),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hitsDesc
	ch <- c.missesDesc
	ch <- c.evictionsDesc
	ch <- c.sizeDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(c.hitsDesc, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.missesDesc, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictionsDesc, prometheus.CounterValue, float64(stats.Evictions))
	ch <- prometheus.MustNewConstMetric(c.sizeDesc, prometheus.GaugeValue, float64(c.cache.Len()))
}
