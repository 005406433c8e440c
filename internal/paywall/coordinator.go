// Package paywall memoizes paywall fetches and deduplicates concurrent
// requests for the same content.
package paywall

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"
	"golang.org/x/sync/singleflight"

	"github.com/tollgate-sdk/tollgate/internal/observability"
	"github.com/tollgate-sdk/tollgate/model"
)

// ContentSource fetches the raw paywall definition for a request. The
// production implementation talks to the network; tests substitute fakes.
type ContentSource interface {
	FetchPaywall(ctx context.Context, req model.PaywallRequest) (model.Paywall, error)
}

// ProductSource resolves live product state. Trial eligibility changes with
// the user's purchase history, so it is re-derived even on cache hits.
type ProductSource interface {
	FreeTrialAvailable(ctx context.Context, p model.Paywall) (bool, error)
}

// RequestHash is the cache key for a request: the response identifier joined
// with the locale, so the same paywall in different locales caches separately.
func RequestHash(req model.PaywallRequest) string {
	return req.Identifier() + "_" + req.Locale
}

// Stats are the coordinator's hit/miss counters, exposed for observability.
type Stats struct {
	Hits   uint64
	Misses uint64
	// Shared counts callers that piggybacked on another caller's in-flight
	// fetch instead of issuing their own.
	Shared uint64
}

// Coordinator serves paywall requests through a memoized cache (L1, otter)
// fronted by a singleflight group, so N concurrent requests for the same
// content produce exactly one upstream fetch.
type Coordinator struct {
	content  ContentSource
	products ProductSource
	cache    otter.Cache[string, model.Paywall]
	group    singleflight.Group
	logger   *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	shared atomic.Uint64
}

// NewCoordinator builds the coordinator. capacity caps the number of cached
// paywalls, ttl bounds their staleness. products may be nil, in which case
// the fetched trial state is served as-is.
func NewCoordinator(content ContentSource, products ProductSource, capacity int, ttl time.Duration, logger *slog.Logger) (*Coordinator, error) {
	if content == nil {
		panic("paywall: content source cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := otter.MustBuilder[string, model.Paywall](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("paywall: build cache: %w", err)
	}

	return &Coordinator{
		content:  content,
		products: products,
		cache:    cache,
		logger:   logger,
	}, nil
}

// Get resolves a paywall for the request.
//
// Preview requests and requests carrying product overrides skip the cached
// entry but still join an in-flight fetch for the same hash; everything else
// is served from cache when possible. On a miss, concurrent callers with the
// same request hash share a single upstream fetch of the base content, and
// each caller applies its own overrides to the shared result. The shared
// fetch runs detached from any one caller's context, so an abandoned caller
// cannot cancel it for the rest.
func (c *Coordinator) Get(ctx context.Context, req model.PaywallRequest) (model.Paywall, error) {
	hash := RequestHash(req)

	if req.Preview || req.Overrides != nil {
		c.logger.Debug("skipping paywall cache",
			slog.String("request_hash", hash),
			slog.Bool("preview", req.Preview),
		)
	} else {
		if cached, ok := c.cache.Get(hash); ok {
			c.hits.Add(1)
			observability.PaywallCacheHits.Inc()
			return c.finalize(ctx, cached, req, hash)
		}
		c.misses.Add(1)
		observability.PaywallCacheMisses.Inc()
	}

	ch := c.group.DoChan(hash, func() (any, error) {
		// The base content is shared across callers; per-caller overrides are
		// applied after the fact, never fetched or cached.
		base := req
		base.Overrides = nil

		p, err := c.content.FetchPaywall(context.WithoutCancel(ctx), base)
		if err != nil {
			return nil, fmt.Errorf("paywall: fetch %s: %w", hash, err)
		}
		p.RequestHash = hash
		if !req.Preview {
			c.cache.Set(hash, p)
		}
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return model.Paywall{}, res.Err
		}
		if res.Shared {
			c.shared.Add(1)
			observability.PaywallSharedFetches.Inc()
		}
		return c.finalize(ctx, res.Val.(model.Paywall), req, hash)
	case <-ctx.Done():
		// The in-flight fetch keeps running and will populate the cache for
		// whoever asks next.
		return model.Paywall{}, ctx.Err()
	}
}

// Invalidate drops the cached paywall for the request, if any. Called when a
// fetched paywall is known stale, e.g. after a config refresh.
func (c *Coordinator) Invalidate(req model.PaywallRequest) {
	c.cache.Delete(RequestHash(req))
}

// Clear empties the cache. Used on identity reset.
func (c *Coordinator) Clear() {
	c.cache.Clear()
}

// Stats returns a snapshot of the hit/miss counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Shared: c.shared.Load(),
	}
}

// Close shuts down the cache's background goroutines.
func (c *Coordinator) Close() {
	c.cache.Close()
}

// finalize stamps request attribution onto a shared or cached paywall value
// and re-derives the mutable sub-fields. The cached copy stays untouched.
func (c *Coordinator) finalize(ctx context.Context, p model.Paywall, req model.PaywallRequest, hash string) (model.Paywall, error) {
	p.RequestHash = hash
	p.Experiment = req.Experiment

	if req.Overrides != nil {
		if len(req.Overrides.Products) > 0 {
			p.Products = req.Overrides.Products
		}
		if req.Overrides.FreeTrial != nil {
			p.IsFreeTrialAvailable = *req.Overrides.FreeTrial
			return p, nil
		}
	}

	return c.derive(ctx, p)
}

func (c *Coordinator) derive(ctx context.Context, p model.Paywall) (model.Paywall, error) {
	if c.products == nil {
		return p, nil
	}
	available, err := c.products.FreeTrialAvailable(ctx, p)
	if err != nil {
		return model.Paywall{}, fmt.Errorf("paywall: derive trial state for %s: %w", p.Identifier, err)
	}
	p.IsFreeTrialAvailable = available
	return p, nil
}
