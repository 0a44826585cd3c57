// Package cache provides a TTL-bounded LRU cache for search responses.
// Keys are derived from the normalized query plus every parameter that
// affects ranking, so two requests share an entry only when their results
// would be identical.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache is a TTL'd LRU of search responses keyed by request fingerprint.
type Cache[V any] struct {
	lru *lru.LRU[string, V]

	hits   prometheus.Counter
	misses prometheus.Counter
}

// New creates a cache holding up to maxEntries values for at most ttl.
// Hit and miss counters are registered with reg; pass nil to keep the
// counters unregistered (tests).
func New[V any](maxEntries int, ttl time.Duration, reg prometheus.Registerer) *Cache[V] {
	hitsOpts := prometheus.CounterOpts{
		Namespace: "searchd",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Search cache hits.",
	}
	missesOpts := prometheus.CounterOpts{
		Namespace: "searchd",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Search cache misses.",
	}

	c := &Cache[V]{}
	if reg != nil {
		c.hits = promauto.With(reg).NewCounter(hitsOpts)
		c.misses = promauto.With(reg).NewCounter(missesOpts)
	} else {
		c.hits = prometheus.NewCounter(hitsOpts)
		c.misses = prometheus.NewCounter(missesOpts)
	}
	c.lru = lru.NewLRU[string, V](maxEntries, nil, ttl)
	return c
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	value, ok := c.lru.Get(key)
	if ok {
		c.hits.Inc()
	} else {
		c.misses.Inc()
	}
	return value, ok
}

// Set stores value under key.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Purge drops all entries.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// KeyParams captures every request parameter that affects ranking.
type KeyParams struct {
	Query        string
	K            int
	Filters      map[string]string
	FusionMethod string
	Alpha        float64
	RRFK         int
	Rerank       bool
}

// Key derives a deterministic cache key. The query is normalized
// (lowercased, whitespace collapsed) and filters are serialized in sorted
// key order so map iteration cannot produce distinct keys for equal
// requests.
func Key(p KeyParams) string {
	var sb strings.Builder

	sb.WriteString(normalizeQuery(p.Query))
	sb.WriteByte('\n')
	sb.WriteString(strconv.Itoa(p.K))
	sb.WriteByte('\n')
	sb.WriteString(p.FusionMethod)
	sb.WriteByte('\n')
	sb.WriteString(strconv.FormatFloat(p.Alpha, 'g', -1, 64))
	sb.WriteByte('\n')
	sb.WriteString(strconv.Itoa(p.RRFK))
	sb.WriteByte('\n')
	sb.WriteString(strconv.FormatBool(p.Rerank))
	sb.WriteByte('\n')
	sb.Write(sortedFilterJSON(p.Filters))

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func sortedFilterJSON(filters map[string]string) []byte {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type pair struct {
		K string `json:"k"`
		V string `json:"v"`
	}
	pairs := make([]pair, len(keys))
	for i, k := range keys {
		pairs[i] = pair{K: k, V: filters[k]}
	}
	out, _ := json.Marshal(pairs)
	return out
}
