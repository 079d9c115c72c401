package queryz

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

// settings is a map-backed Settings for tests.
type settings map[string]any

func (s settings) value(key string) (any, error) {
	v, ok := s[key]
	if !ok {
		return nil, fmt.Errorf("key %q not found", key)
	}
	return v, nil
}

func (s settings) String(key string) (string, error) {
	v, err := s.value(key)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("key %q is not a string", key)
	}
	return str, nil
}

func (s settings) Int(key string) (int, error) {
	v, err := s.value(key)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("key %q is not an integer", key)
	}
	return n, nil
}

func (s settings) Bool(key string) (bool, error) {
	v, err := s.value(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("key %q is not a bool", key)
	}
	return b, nil
}

func newTestCache(t *testing.T, cfg settings) (*CacheModule, *clockz.FakeClock) {
	t.Helper()
	clock := clockz.NewFakeClock()
	c := NewCache(WithCacheClock(clock))
	t.Cleanup(c.Cleanup)
	if cfg != nil {
		if err := c.LoadConfig(cfg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return c, clock
}

func TestCacheModule(t *testing.T) {
	ctx := context.Background()

	t.Run("Miss Leaves Query Continuing", func(t *testing.T) {
		c, _ := newTestCache(t, nil)
		q := NewQuery("hello")
		c.Process(ctx, q)

		if q.Status() != StatusContinue {
			t.Errorf("expected continue, got %s", q.Status())
		}
		if _, ok := q.Response(); ok {
			t.Error("expected no response on miss")
		}
		if c.Stats().Misses != 1 {
			t.Errorf("expected 1 miss, got %d", c.Stats().Misses)
		}
	})

	t.Run("Post Then Pre Hits", func(t *testing.T) {
		c, _ := newTestCache(t, settings{"Timeout": 5, "BucketCount": 4})

		first := NewQuery("hello")
		first.Replace("toupper", "HELLO")
		c.PostProcess(ctx, first)
		if first.Status() != StatusContinue {
			t.Errorf("post-process must not change status, got %s", first.Status())
		}
		if first.Owner() != "toupper" {
			t.Errorf("post-process must not take the response, owner is %q", first.Owner())
		}

		second := NewQuery("hello")
		c.Process(ctx, second)
		if second.Status() != StatusDone {
			t.Fatalf("expected done, got %s", second.Status())
		}
		resp, ok := second.Response()
		if !ok || resp != "HELLO" {
			t.Errorf("expected HELLO, got %q (present=%v)", resp, ok)
		}
		if second.Owner() != CacheName {
			t.Errorf("expected cache to own the response, got %q", second.Owner())
		}
	})

	t.Run("Hit Releases Previous Response", func(t *testing.T) {
		c, _ := newTestCache(t, nil)
		c.Store().Insert("k", "cached", StatusContinue)

		q := NewQuery("k")
		q.Replace("earlier", "stale")
		c.Process(ctx, q)

		if resp, _ := q.Response(); resp != "cached" {
			t.Errorf("expected cached, got %q", resp)
		}
	})

	t.Run("Hit Returns A Copy", func(t *testing.T) {
		c, _ := newTestCache(t, nil)
		c.Store().Insert("k", "cached", StatusContinue)

		q := NewQuery("k")
		c.Process(ctx, q)
		q.Release()

		e, ok := c.Store().Find("k")
		if !ok || e.Payload != "cached" {
			t.Errorf("releasing the response must not affect the entry, got %+v", e)
		}
	})

	t.Run("No Duplicate Insert", func(t *testing.T) {
		c, _ := newTestCache(t, nil)
		for _, payload := range []string{"one", "two"} {
			q := NewQuery("k")
			q.Replace("t", payload)
			c.PostProcess(ctx, q)
		}

		e, _ := c.Store().Find("k")
		if e.Payload != "one" {
			t.Errorf("expected first payload kept, got %q", e.Payload)
		}
		stats := c.Stats()
		if stats.Inserts != 1 || stats.Entries != 1 {
			t.Errorf("expected 1 insert and 1 entry, got %+v", stats)
		}
	})

	t.Run("Missing Response Stored Empty", func(t *testing.T) {
		c, _ := newTestCache(t, nil)
		c.PostProcess(ctx, NewQuery("k"))

		q := NewQuery("k")
		c.Process(ctx, q)
		resp, ok := q.Response()
		if !ok || resp != "" {
			t.Errorf("expected empty response, got %q (present=%v)", resp, ok)
		}
		if q.Status() != StatusDone {
			t.Errorf("expected done, got %s", q.Status())
		}
	})

	t.Run("Entries Expire", func(t *testing.T) {
		c, clock := newTestCache(t, settings{"Timeout": 5, "BucketCount": 4})
		q := NewQuery("hello")
		q.Replace("t", "HELLO")
		c.PostProcess(ctx, q)

		clock.Advance(5 * time.Second)
		hit := NewQuery("hello")
		c.Process(ctx, hit)
		if hit.Status() != StatusContinue {
			t.Errorf("expected miss after timeout, got %s", hit.Status())
		}
		if c.Stats().Evictions != 1 {
			t.Errorf("expected 1 eviction, got %d", c.Stats().Evictions)
		}
	})

	t.Run("Eviction Hook", func(t *testing.T) {
		c, clock := newTestCache(t, settings{"Timeout": 1, "BucketCount": 1})

		var fired atomic.Int32
		if err := c.OnEvicted(func(_ context.Context, e CacheEvent) error {
			if e.Key == "k" {
				fired.Add(1)
			}
			return nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		c.Store().Insert("k", "v", StatusContinue)
		clock.Advance(2 * time.Second)
		c.Process(ctx, NewQuery("other"))

		// Wait for async hook
		time.Sleep(50 * time.Millisecond)

		if fired.Load() != 1 {
			t.Errorf("expected 1 eviction event, got %d", fired.Load())
		}
	})
}

func TestCacheLoadConfig(t *testing.T) {
	t.Run("Defaults On Missing Keys", func(t *testing.T) {
		c, _ := newTestCache(t, settings{})

		if c.Store().Timeout() != DefaultCacheTimeout*time.Second {
			t.Errorf("expected default timeout, got %v", c.Store().Timeout())
		}
		if c.Store().BucketCount() != DefaultCacheBucketCount {
			t.Errorf("expected default bucket count, got %d", c.Store().BucketCount())
		}
	})

	t.Run("Defaults On Wrong Types", func(t *testing.T) {
		c, _ := newTestCache(t, settings{"Timeout": "soon", "BucketCount": "many"})

		if c.Store().Timeout() != DefaultCacheTimeout*time.Second {
			t.Errorf("expected default timeout, got %v", c.Store().Timeout())
		}
		if c.Store().BucketCount() != DefaultCacheBucketCount {
			t.Errorf("expected default bucket count, got %d", c.Store().BucketCount())
		}
	})

	t.Run("Negative Timeout Uses Default", func(t *testing.T) {
		c, _ := newTestCache(t, settings{"Timeout": -3})
		if c.Store().Timeout() != DefaultCacheTimeout*time.Second {
			t.Errorf("expected default timeout, got %v", c.Store().Timeout())
		}
	})

	t.Run("Zero Timeout Never Hits", func(t *testing.T) {
		c, _ := newTestCache(t, settings{"Timeout": 0, "BucketCount": 2})
		c.Store().Insert("k", "v", StatusContinue)

		q := NewQuery("k")
		c.Process(context.Background(), q)
		if q.Status() != StatusContinue {
			t.Errorf("expected miss with zero timeout, got %s", q.Status())
		}
	})

	t.Run("Invalid Bucket Count Is Fatal", func(t *testing.T) {
		for _, n := range []int{0, -5} {
			c := NewCache()
			err := c.LoadConfig(settings{"BucketCount": n})
			if !errors.Is(err, ErrInvalidBucketCount) {
				t.Errorf("BucketCount=%d: expected ErrInvalidBucketCount, got %v", n, err)
			}
			if !IsFatal(err) {
				t.Errorf("BucketCount=%d: expected fatal error", n)
			}
			c.Cleanup()
		}
	})

	t.Run("Reload Clears Entries", func(t *testing.T) {
		c, _ := newTestCache(t, settings{"BucketCount": 4})
		c.Store().Insert("k", "v", StatusContinue)

		if err := c.LoadConfig(settings{"BucketCount": 4}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Stats().Entries != 0 {
			t.Errorf("expected empty store after reload, got %d", c.Stats().Entries)
		}

		c.Store().Insert("k", "v", StatusContinue)
		if err := c.LoadConfig(settings{"BucketCount": 16}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Store().BucketCount() != 16 || c.Stats().Entries != 0 {
			t.Errorf("expected 16 empty buckets, got %d buckets and %d entries",
				c.Store().BucketCount(), c.Stats().Entries)
		}
	})

	t.Run("Hash Selection", func(t *testing.T) {
		c, _ := newTestCache(t, settings{"BucketCount": 64, "Hash": "XXHash"})
		if want := int(XXHash("hello") % 64); c.Store().BucketOf("hello") != want {
			t.Errorf("expected xxhash bucket %d, got %d", want, c.Store().BucketOf("hello"))
		}

		c, _ = newTestCache(t, settings{"BucketCount": 64, "Hash": "fnv"})
		if want := int(Poly31("hello") % 64); c.Store().BucketOf("hello") != want {
			t.Errorf("expected poly31 fallback bucket %d, got %d", want, c.Store().BucketOf("hello"))
		}
	})
}

func TestCacheObservability(t *testing.T) {
	ctx := context.Background()
	c := NewCache(WithCacheClock(clockz.NewFakeClock()))

	c.Process(ctx, NewQuery("a"))
	q := NewQuery("a")
	q.Replace("t", "A")
	c.PostProcess(ctx, q)
	c.Process(ctx, NewQuery("a"))

	if v := c.Metrics().Counter(CacheMissesTotal).Value(); v != 1 {
		t.Errorf("expected 1 miss, got %f", v)
	}
	if v := c.Metrics().Counter(CacheHitsTotal).Value(); v != 1 {
		t.Errorf("expected 1 hit, got %f", v)
	}
	if v := c.Metrics().Counter(CacheInsertsTotal).Value(); v != 1 {
		t.Errorf("expected 1 insert, got %f", v)
	}
	if v := c.Metrics().Gauge(CacheEntries).Value(); v != 1 {
		t.Errorf("expected 1 entry, got %f", v)
	}

	c.Cleanup()
	if c.Stats().Entries != 0 {
		t.Errorf("expected no entries after cleanup, got %d", c.Stats().Entries)
	}
}
