package scraper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mealcart/pricewatch/internal/extract"
	"github.com/mealcart/pricewatch/internal/model"
	"github.com/mealcart/pricewatch/internal/ratelimit"
	"github.com/mealcart/pricewatch/internal/resilience"
	"github.com/mealcart/pricewatch/internal/resultcache"
)

// Deps bundles the shared resilience primitives every adapter composes.
// The cache, limiter, and breaker are process-wide and shared across all
// workers; per-source isolation happens inside each primitive.
type Deps struct {
	Limiter *ratelimit.Limiter
	Breaker *resilience.CooldownBreaker
	Cache   *resultcache.Cache
}

// AdapterConfig tunes one source's adapter.
type AdapterConfig struct {
	// CacheTTL is the result cache lifetime. Default: 30m.
	CacheTTL time.Duration

	// Retry is the retry policy for the fetch step. Zero value uses
	// resilience defaults.
	Retry resilience.RetryPolicy

	// MaxResults truncates ranked output. Default: 10.
	MaxResults int

	// MinKeepRatio is the relevance retention floor for ranking. Default: 0.34.
	MinKeepRatio float64
}

func (c AdapterConfig) withDefaults() AdapterConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Minute
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
	if c.MinKeepRatio <= 0 {
		c.MinKeepRatio = 0.34
	}
	return c
}

// fetchFunc performs one uncached, unthrottled query for a source.
type fetchFunc func(ctx context.Context, q model.ScrapeQuery) ([]model.ProductRecord, error)

// Adapter composes the resilience primitives around a retailer-specific
// fetch. Call order per query: breaker fail-fast check, then cache /
// single-flight, and inside the flight: rate-limit slot, retry-wrapped
// fetch, breaker outcome recording.
type Adapter struct {
	name  string
	deps  Deps
	cfg   AdapterConfig
	fetch fetchFunc
}

func newAdapter(name string, deps Deps, cfg AdapterConfig, fetch fetchFunc) *Adapter {
	cfg = cfg.withDefaults()
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger(name, "scrape")
	}
	return &Adapter{name: name, deps: deps, cfg: cfg, fetch: fetch}
}

// Name returns the source id.
func (a *Adapter) Name() string { return a.name }

// Scrape runs one query through the full stack. No results is success (an
// empty slice); an open cooldown or a 429 that outlives retries surfaces as
// a rate-limit error.
func (a *Adapter) Scrape(ctx context.Context, keyword, locationKey string) ([]model.ProductRecord, error) {
	q := model.ScrapeQuery{Keyword: keyword, LocationKey: locationKey, SourceID: a.name}

	if err := a.deps.Breaker.AllowWait(ctx, a.name); err != nil {
		zap.L().Debug("scrape: breaker open, failing fast",
			zap.String("source", a.name),
			zap.String("keyword", keyword),
		)
		return nil, err
	}

	return a.deps.Cache.GetOrFetch(ctx, q.Key(), a.cfg.CacheTTL, func(ctx context.Context) ([]model.ProductRecord, error) {
		if err := a.deps.Limiter.Acquire(ctx, a.name); err != nil {
			return nil, err
		}

		records, err := resilience.Execute(ctx, a.cfg.Retry,
			func(ctx context.Context, _ int) ([]model.ProductRecord, error) {
				return a.fetch(ctx, q)
			})

		a.deps.Breaker.RecordOutcome(a.name, err)
		if err != nil {
			return nil, err
		}
		return records, nil
	})
}

// NewAPIAdapter builds an adapter for a source with a structured search
// API: raw candidates map straight to records, then dedupe and rank.
func NewAPIAdapter(name string, api ProductAPI, deps Deps, cfg AdapterConfig) *Adapter {
	cfg = cfg.withDefaults()
	return newAdapter(name, deps, cfg, func(ctx context.Context, q model.ScrapeQuery) ([]model.ProductRecord, error) {
		cands, err := api.Search(ctx, q.Keyword, q.LocationKey)
		if err != nil {
			return nil, err
		}

		var records []model.ProductRecord
		for _, cand := range cands {
			if rec, ok := extract.NormalizeCandidate(cand, name, q.LocationKey); ok {
				records = append(records, rec)
			}
		}
		records = extract.Dedupe(records)
		return extract.Rank(records, q.Keyword, cfg.MaxResults, cfg.MinKeepRatio), nil
	})
}

// NewContentAdapter builds an adapter for a source without a usable API:
// the page is crawled and handed to the extraction pipeline. A failed crawl
// propagates; an empty page yields an empty result with no LLM calls.
func NewContentAdapter(name string, fetcher PageFetcher, pipeline *extract.Pipeline, deps Deps, cfg AdapterConfig) *Adapter {
	return newAdapter(name, deps, cfg, func(ctx context.Context, q model.ScrapeQuery) ([]model.ProductRecord, error) {
		content, err := fetcher.FetchPage(ctx, q.Keyword, q.LocationKey)
		if err != nil {
			return nil, err
		}
		return pipeline.Extract(ctx, q.Keyword, content, name, q.LocationKey), nil
	})
}
