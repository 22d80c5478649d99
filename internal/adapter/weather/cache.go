package weather

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// CachedProvider wraps a WeatherProvider with a time-bounded cache. A single
// location means a single cache slot; the TTL guarantees an attached snapshot
// is never older than the configured window. Expired entries are refreshed
// synchronously on lookup, and concurrent misses share one in-flight fetch
// instead of issuing duplicate provider calls.
type CachedProvider struct {
	inner   domain.WeatherProvider
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu        sync.Mutex
	current   domain.WeatherConditions
	expiresAt time.Time

	group singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedProvider creates a cache decorator around a weather provider.
func NewCachedProvider(inner domain.WeatherProvider, ttl time.Duration, clk clockwork.Clock, metrics *observability.Metrics) *CachedProvider {
	return &CachedProvider{
		inner:   inner,
		ttl:     ttl,
		clock:   clk,
		metrics: metrics,
	}
}

// Current returns the cached conditions while they are inside the TTL, and
// refetches synchronously otherwise. A fetch failure on miss is returned to
// the caller; nothing stale is ever served past expiry.
func (c *CachedProvider) Current(ctx context.Context) (domain.WeatherConditions, error) {
	if cond, ok := c.cached(); ok {
		c.hits.Add(1)
		c.metrics.WeatherCache.WithLabelValues("hit").Inc()
		return cond, nil
	}
	c.misses.Add(1)
	c.metrics.WeatherCache.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do("current", func() (any, error) {
		// A concurrent miss may have refreshed the slot while this call
		// waited on the flight group.
		if cond, ok := c.cached(); ok {
			return cond, nil
		}

		cond, err := c.inner.Current(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.current = cond
		c.expiresAt = c.clock.Now().Add(c.ttl)
		c.mu.Unlock()
		return cond, nil
	})
	if err != nil {
		return domain.WeatherConditions{}, err
	}
	return v.(domain.WeatherConditions), nil
}

func (c *CachedProvider) cached() (domain.WeatherConditions, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiresAt.IsZero() || !c.clock.Now().Before(c.expiresAt) {
		return domain.WeatherConditions{}, false
	}
	return c.current, true
}

// HitRate reports the fraction of lookups served from cache, for the status
// endpoint. Returns 0 before the first lookup.
func (c *CachedProvider) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
