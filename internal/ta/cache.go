package ta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"algobot-go/internal/metrics"
	"algobot-go/internal/signal"
)

// Option configures Cache construction parameters.
type Option func(*Cache)

// WithClock overrides the cache's time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache serves signals from memory while they are inside their TTL, fetching
// the rest in one provider batch. When the provider fails, an expired entry
// still inside the staleness window is served instead of nothing.
type Cache struct {
	provider Provider
	ttl      time.Duration
	staleFor time.Duration
	log      zerolog.Logger
	now      func() time.Time
	mu       sync.Mutex
	entries  map[string]entry
}

type entry struct {
	sig     signal.Signal
	fetched time.Time
}

// NewCache wraps the provider with the given freshness windows.
func NewCache(provider Provider, ttl, staleFor time.Duration, log zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		provider: provider,
		ttl:      ttl,
		staleFor: staleFor,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		entries:  make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func key(pair, interval string) string { return pair + "|" + interval }

// GetAll returns a signal for every pair it can serve: fresh cache hits,
// freshly fetched entries, then stale fallbacks. Pairs absent from the result
// are excluded from the caller's pass.
func (c *Cache) GetAll(ctx context.Context, pairs []string, interval string) map[string]signal.Signal {
	now := c.now()
	out := make(map[string]signal.Signal, len(pairs))
	var misses []string

	c.mu.Lock()
	for _, pair := range pairs {
		if cached, ok := c.entries[key(pair, interval)]; ok && now.Sub(cached.fetched) < c.ttl {
			out[pair] = cached.sig
			continue
		}
		misses = append(misses, pair)
	}
	c.mu.Unlock()

	if len(misses) == 0 {
		return out
	}

	fetched, err := c.provider.Fetch(ctx, misses, interval)
	if err != nil {
		c.log.Warn().Err(err).Int("pairs", len(misses)).Msg("signal fetch failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pair := range misses {
		if sig, ok := fetched[pair]; ok {
			c.entries[key(pair, interval)] = entry{sig: sig, fetched: now}
			out[pair] = sig
			continue
		}
		metrics.SignalErrorsTotal.Inc()
		if cached, ok := c.entries[key(pair, interval)]; ok && now.Sub(cached.fetched) < c.ttl+c.staleFor {
			c.log.Debug().Str("pair", pair).Msg("serving stale signal")
			out[pair] = cached.sig
		}
	}
	return out
}

// Get resolves a single pair, failing with ErrUnavailable when neither the
// provider nor the staleness window can produce a signal.
func (c *Cache) Get(ctx context.Context, pair, interval string) (signal.Signal, error) {
	all := c.GetAll(ctx, []string{pair}, interval)
	sig, ok := all[pair]
	if !ok {
		return signal.Signal{}, fmt.Errorf("%s: %w", pair, ErrUnavailable)
	}
	return sig, nil
}
