package queryz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
)

// CacheName is the default name of the cache module.
const CacheName Name = "cache"

// Cache defaults applied when the config section omits a key.
const (
	DefaultCacheTimeout     = 2
	DefaultCacheBucketCount = 32
)

// Observability constants for the cache module.
const (
	// Metrics.
	CacheHitsTotal      = metricz.Key("cache.hits.total")
	CacheMissesTotal    = metricz.Key("cache.misses.total")
	CacheInsertsTotal   = metricz.Key("cache.inserts.total")
	CacheEvictionsTotal = metricz.Key("cache.evictions.total")
	CacheEntries        = metricz.Key("cache.entries")

	// Hook event keys.
	CacheEventEvicted = hookz.Key("cache.evicted")
)

// CacheEvent is emitted via hookz when lazy eviction drops an entry.
type CacheEvent struct {
	Timestamp time.Time
	Name      Name
	Key       string
	ExpiredAt time.Time
}

// CacheStats reports cache activity since construction.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Inserts   int64
	Evictions int64
	Entries   int64
}

// CacheModule serves stored responses in the pre-phase and stores computed
// responses in the post-phase. It owns its Store.
//
// CacheModule is STATEFUL: build it once and place the same instance in both
// the pre-module and post-module lists.
//
// Configuration (section module::<name>):
//
//	Timeout     = 2      ; seconds an entry stays valid
//	BucketCount = 32     ; must be positive, a change drops all entries
//	Hash        = poly31 ; or xxhash
type CacheModule struct {
	store   *Store
	clock   clockz.Clock
	logger  zerolog.Logger
	metrics *metricz.Registry
	hooks   *hookz.Hooks[CacheEvent]
	name    Name
	mu      sync.Mutex
}

// CacheOption configures a CacheModule.
type CacheOption func(*CacheModule)

// WithCacheName overrides the module name.
func WithCacheName(name Name) CacheOption {
	return func(c *CacheModule) { c.name = name }
}

// WithCacheClock sets the clock used for entry expiry.
func WithCacheClock(clock clockz.Clock) CacheOption {
	return func(c *CacheModule) { c.clock = clock }
}

// WithCacheLogger sets the logger used for config warnings.
func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(c *CacheModule) { c.logger = logger }
}

// NewCache creates a cache module with the default timeout and bucket count.
func NewCache(opts ...CacheOption) *CacheModule {
	metrics := metricz.New()
	metrics.Counter(CacheHitsTotal)
	metrics.Counter(CacheMissesTotal)
	metrics.Counter(CacheInsertsTotal)
	metrics.Counter(CacheEvictionsTotal)
	metrics.Gauge(CacheEntries)

	c := &CacheModule{
		name:    CacheName,
		logger:  zerolog.Nop(),
		metrics: metrics,
		hooks:   hookz.New[CacheEvent](),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Defaults are positive, NewStore cannot fail here.
	c.store, _ = NewStore(DefaultCacheBucketCount, DefaultCacheTimeout*time.Second) //nolint:errcheck
	if c.clock != nil {
		c.store.WithClock(c.clock)
	}
	c.store.OnEvict(c.evicted)
	return c
}

// Name returns the module name.
func (c *CacheModule) Name() Name {
	return c.name
}

// Store returns the underlying store.
func (c *CacheModule) Store() *Store {
	return c.store
}

// Process looks the query text up. A live entry replaces the response with
// a copy of the cached payload and finishes the query. A miss leaves the
// query in StatusContinue.
func (c *CacheModule) Process(_ context.Context, q *Query) {
	e, ok := c.store.Find(q.Text())
	if !ok {
		c.metrics.Counter(CacheMissesTotal).Inc()
		q.SetStatus(StatusContinue)
		return
	}
	c.metrics.Counter(CacheHitsTotal).Inc()
	q.Replace(c.name, e.Payload)
	q.SetStatus(StatusDone)
}

// PostProcess stores the query's response under its text unless a live
// entry already exists. A query without a response is stored with an empty
// payload. The status is left untouched.
func (c *CacheModule) PostProcess(_ context.Context, q *Query) {
	payload, _ := q.Response()
	if _, inserted := c.store.Insert(q.Text(), payload, q.Status()); inserted {
		c.metrics.Counter(CacheInsertsTotal).Inc()
	}
	c.metrics.Gauge(CacheEntries).Set(float64(c.store.Len()))
}

// LoadConfig reads Timeout, BucketCount and Hash. Missing or mistyped keys
// fall back to defaults with a warning. A non-positive BucketCount returns
// ErrInvalidBucketCount. The store is always emptied.
func (c *CacheModule) LoadConfig(s Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	timeout, err := s.Int("Timeout")
	if err != nil {
		c.logger.Warn().Err(err).Int("default", DefaultCacheTimeout).Msg("could not read Timeout, using default")
		timeout = DefaultCacheTimeout
	}
	if timeout < 0 {
		c.logger.Warn().Int("timeout", timeout).Int("default", DefaultCacheTimeout).Msg("negative Timeout, using default")
		timeout = DefaultCacheTimeout
	}

	buckets, err := s.Int("BucketCount")
	if err != nil {
		c.logger.Warn().Err(err).Int("default", DefaultCacheBucketCount).Msg("could not read BucketCount, using default")
		buckets = DefaultCacheBucketCount
	}
	if buckets <= 0 {
		return fmt.Errorf("%s: BucketCount=%d: %w", c.name, buckets, ErrInvalidBucketCount)
	}

	hash := Poly31
	if name, err := s.String("Hash"); err == nil {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "poly31", "":
		case "xxhash":
			hash = XXHash
		default:
			c.logger.Warn().Str("hash", name).Msg("unknown Hash, using poly31")
		}
	}

	c.store.SetTimeout(time.Duration(timeout) * time.Second)
	c.store.WithHash(hash)
	if err := c.store.Reset(buckets); err != nil {
		return err
	}
	c.metrics.Gauge(CacheEntries).Set(0)

	c.logger.Debug().Int("timeout", timeout).Int("buckets", buckets).Msg("cache configured")
	return nil
}

// Cleanup releases every entry and the bucket array.
func (c *CacheModule) Cleanup() {
	c.store.Release()
	c.metrics.Gauge(CacheEntries).Set(0)
	c.hooks.Close()
}

// Stats returns hit, miss, insert and eviction counts and the entry count.
func (c *CacheModule) Stats() CacheStats {
	return CacheStats{
		Hits:      int64(c.metrics.Counter(CacheHitsTotal).Value()),
		Misses:    int64(c.metrics.Counter(CacheMissesTotal).Value()),
		Inserts:   int64(c.metrics.Counter(CacheInsertsTotal).Value()),
		Evictions: int64(c.metrics.Counter(CacheEvictionsTotal).Value()),
		Entries:   int64(c.store.Len()),
	}
}

// Metrics returns the metrics registry for this module.
func (c *CacheModule) Metrics() *metricz.Registry {
	return c.metrics
}

// OnEvicted registers a handler for entries dropped by lazy eviction.
// Handlers run asynchronously.
func (c *CacheModule) OnEvicted(handler func(context.Context, CacheEvent) error) error {
	_, err := c.hooks.Hook(CacheEventEvicted, handler)
	return err
}

// evicted runs under the store lock.
func (c *CacheModule) evicted(e Entry) {
	c.metrics.Counter(CacheEvictionsTotal).Inc()
	_ = c.hooks.Emit(context.Background(), CacheEventEvicted, CacheEvent{ //nolint:errcheck
		Name:      c.name,
		Key:       e.Key,
		ExpiredAt: e.ExpiresAt,
		Timestamp: time.Now(),
	})
}
