package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/mealcart/pricewatch/internal/config"
	"github.com/mealcart/pricewatch/internal/db"
	"github.com/mealcart/pricewatch/internal/extract"
	"github.com/mealcart/pricewatch/internal/llm"
	"github.com/mealcart/pricewatch/internal/ratelimit"
	"github.com/mealcart/pricewatch/internal/resilience"
	"github.com/mealcart/pricewatch/internal/resultcache"
	"github.com/mealcart/pricewatch/internal/scraper"
)

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// buildScraperStack assembles the shared resilience primitives and the
// source registry from configuration. The returned cache must be closed when
// the command finishes.
func buildScraperStack(c *config.Config) (*scraper.Registry, *resultcache.Cache) {
	limits := make(map[string]ratelimit.SourceLimit)
	for _, name := range scraper.SourceNames() {
		sc := c.Sources.For(name)
		limits[name] = ratelimit.SourceLimit{
			RequestsPerSecond: sc.RequestsPerSecond,
			MinInterval:       ms(sc.MinIntervalMs),
		}
	}
	defaults := c.Sources.Defaults
	limiter := ratelimit.New(limits, ratelimit.SourceLimit{
		RequestsPerSecond: defaults.RequestsPerSecond,
		MinInterval:       ms(defaults.MinIntervalMs),
	})

	breaker := resilience.NewCooldownBreaker(resilience.CooldownConfig{
		Threshold: defaults.CooldownThreshold,
		Cooldown:  ms(defaults.CooldownMs),
	})
	for name := range c.Sources.Overrides {
		sc := c.Sources.For(name)
		breaker.ConfigureSource(name, resilience.CooldownConfig{
			Threshold: sc.CooldownThreshold,
			Cooldown:  ms(sc.CooldownMs),
		})
	}

	cache := resultcache.New()

	var client llm.Client
	if c.Anthropic.Key != "" {
		client = llm.NewClient(c.Anthropic.Key, c.Anthropic.Model)
	}
	pipeline := extract.New(client, extract.Options{
		MaxRepairBlocks:     c.Extract.MaxRepairBlocks,
		MaxResults:          c.Extract.MaxResults,
		MinKeepRatio:        c.Extract.MinKeepRatio,
		LLMTimeout:          ms(c.Extract.LLMTimeoutMs),
		FullPageMaxProducts: c.Extract.FullPageMaxProducts,
	})

	deps := scraper.Deps{Limiter: limiter, Breaker: breaker, Cache: cache}
	reg := scraper.BuildRegistry(scraper.SourceOptions{
		UserAgent:     c.Sources.UserAgent,
		KrogerBaseURL: c.Kroger.BaseURL,
		KrogerToken:   c.Kroger.Token,
		TargetBaseURL: c.Target.BaseURL,
		TargetAPIKey:  c.Target.APIKey,
		MeijerBaseURL: c.Meijer.BaseURL,
		CrawlBaseURL:  c.Crawl.BaseURL,
		CrawlToken:    c.Crawl.Token,
	}, pipeline, deps, func(name string) scraper.AdapterConfig {
		sc := c.Sources.For(name)
		return scraper.AdapterConfig{
			CacheTTL: ms(sc.CacheTTLMs),
			Retry: resilience.RetryPolicy{
				MaxRetries:     sc.MaxRetries,
				InitialTimeout: ms(sc.TimeoutMs),
				BaseDelay:      ms(sc.RetryBaseDelayMs),
			},
			MaxResults:   c.Extract.MaxResults,
			MinKeepRatio: c.Extract.MinKeepRatio,
		}
	})

	return reg, cache
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url not configured (PRICEWATCH_STORE_DATABASE_URL)")
	}
	return db.Connect(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}
