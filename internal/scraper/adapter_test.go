package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mealcart/pricewatch/internal/extract"
	"github.com/mealcart/pricewatch/internal/model"
	"github.com/mealcart/pricewatch/internal/ratelimit"
	"github.com/mealcart/pricewatch/internal/resilience"
	"github.com/mealcart/pricewatch/internal/resultcache"
)

// fakeAPI records every search and replays canned candidates or an error.
type fakeAPI struct {
	candidates []model.RawCandidate
	err        error
	calls      int
}

func (f *fakeAPI) Search(context.Context, string, string) ([]model.RawCandidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type fakePage struct {
	content string
	err     error
	calls   int
}

func (f *fakePage) FetchPage(context.Context, string, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

func newTestDeps(t *testing.T, breakerCfg resilience.CooldownConfig) Deps {
	t.Helper()
	cache := resultcache.New()
	t.Cleanup(cache.Close)
	return Deps{
		Limiter: ratelimit.New(nil, ratelimit.SourceLimit{RequestsPerSecond: 1000}),
		Breaker: resilience.NewCooldownBreaker(breakerCfg),
		Cache:   cache,
	}
}

func fastConfig() AdapterConfig {
	return AdapterConfig{
		CacheTTL: time.Minute,
		Retry: resilience.RetryPolicy{
			MaxRetries:     0,
			InitialTimeout: time.Second,
			BaseDelay:      time.Millisecond,
			MaxDelay:       time.Millisecond,
		},
	}
}

func TestAPIAdapterNormalizesAndRanks(t *testing.T) {
	api := &fakeAPI{candidates: []model.RawCandidate{
		{ExternalID: "a1", Name: "Whole Milk", Price: "3.49", Unit: "gal"},
		{ExternalID: "a2", Name: "Whole Milk Gallon", Price: "2.99"},
		{ExternalID: "a3", Name: "Broken", Price: "not-a-price"},
	}}
	a := NewAPIAdapter("kroger", api, newTestDeps(t, resilience.CooldownConfig{}), fastConfig())

	records, err := a.Scrape(context.Background(), "whole milk", "47906")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 valid records, got %d: %+v", len(records), records)
	}
	if records[0].Price != 2.99 {
		t.Errorf("expected cheapest exact match first, got %+v", records[0])
	}
	for _, r := range records {
		if r.SourceLabel != "kroger" {
			t.Errorf("record missing source label: %+v", r)
		}
	}
}

func TestScrapeEmptyResultsIsSuccess(t *testing.T) {
	api := &fakeAPI{}
	a := NewAPIAdapter("kroger", api, newTestDeps(t, resilience.CooldownConfig{}), fastConfig())

	records, err := a.Scrape(context.Background(), "saffron", "47906")
	if err != nil {
		t.Fatalf("empty results must not be an error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %+v", records)
	}
}

func TestScrapeCachesWithinTTL(t *testing.T) {
	api := &fakeAPI{candidates: []model.RawCandidate{
		{ExternalID: "a1", Name: "Eggs", Price: "4.29"},
	}}
	a := NewAPIAdapter("kroger", api, newTestDeps(t, resilience.CooldownConfig{}), fastConfig())

	for range 3 {
		if _, err := a.Scrape(context.Background(), "eggs", "47906"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if api.calls != 1 {
		t.Fatalf("expected 1 upstream search for 3 scrapes, got %d", api.calls)
	}

	if _, err := a.Scrape(context.Background(), "eggs", "60601"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.calls != 2 {
		t.Fatalf("different location must miss the cache, got %d calls", api.calls)
	}
}

func TestScrapeFailsFastWhileBreakerOpen(t *testing.T) {
	api := &fakeAPI{}
	deps := newTestDeps(t, resilience.CooldownConfig{Threshold: 1, Cooldown: time.Minute})
	deps.Breaker.RecordRateLimit("kroger", 0)
	a := NewAPIAdapter("kroger", api, deps, fastConfig())

	_, err := a.Scrape(context.Background(), "milk", "47906")
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected a rate-limit error while open, got %v", err)
	}
	if api.calls != 0 {
		t.Fatalf("breaker open must not reach upstream, got %d calls", api.calls)
	}
}

func TestRateLimitErrorsPropagateAndOpenBreaker(t *testing.T) {
	api := &fakeAPI{err: resilience.NewRateLimitError("kroger", 0, errors.New("429"))}
	deps := newTestDeps(t, resilience.CooldownConfig{Threshold: 2, Cooldown: time.Minute})
	a := NewAPIAdapter("kroger", api, deps, fastConfig())

	for _, kw := range []string{"milk", "eggs"} {
		_, err := a.Scrape(context.Background(), kw, "47906")
		if !resilience.IsRateLimit(err) {
			t.Fatalf("expected rate-limit error for %q, got %v", kw, err)
		}
	}
	if deps.Breaker.CooldownRemaining("kroger") <= 0 {
		t.Fatal("two consecutive rate limits should have opened the breaker")
	}

	callsBefore := api.calls
	if _, err := a.Scrape(context.Background(), "butter", "47906"); !resilience.IsRateLimit(err) {
		t.Fatalf("expected fail-fast rate-limit error, got %v", err)
	}
	if api.calls != callsBefore {
		t.Fatalf("open breaker must not reach upstream, calls went %d -> %d", callsBefore, api.calls)
	}
}

func TestFailedScrapeIsNotCached(t *testing.T) {
	api := &fakeAPI{err: resilience.NewStatusError(500, errors.New("boom"))}
	a := NewAPIAdapter("kroger", api, newTestDeps(t, resilience.CooldownConfig{}), AdapterConfig{
		CacheTTL: time.Minute,
		Retry: resilience.RetryPolicy{
			MaxRetries:     0,
			InitialTimeout: time.Second,
			BaseDelay:      time.Millisecond,
			MaxDelay:       time.Millisecond,
		},
	})

	if _, err := a.Scrape(context.Background(), "milk", "47906"); err == nil {
		t.Fatal("expected upstream failure to surface")
	}

	api.err = nil
	api.candidates = []model.RawCandidate{{ExternalID: "a1", Name: "Milk", Price: "2.99"}}
	records, err := a.Scrape(context.Background(), "milk", "47906")
	if err != nil {
		t.Fatalf("retry after failure should succeed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after recovery, got %+v", records)
	}
}

func TestContentAdapterRunsPipeline(t *testing.T) {
	page := &fakePage{content: "[Whole Milk](https://www.walmart.com/ip/12345678)\n$3.18\n\nnot a product row"}
	pipeline := extract.New(nil, extract.Options{})
	a := NewContentAdapter("walmart", page, pipeline, newTestDeps(t, resilience.CooldownConfig{}), fastConfig())

	records, err := a.Scrape(context.Background(), "whole milk", "47906")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 structural record, got %+v", records)
	}
	if records[0].Name != "Whole Milk" || records[0].Price != 3.18 {
		t.Errorf("unexpected record: %+v", records[0])
	}
}

func TestContentAdapterCrawlFailurePropagates(t *testing.T) {
	page := &fakePage{err: resilience.NewStatusError(503, errors.New("crawl down"))}
	pipeline := extract.New(nil, extract.Options{})
	a := NewContentAdapter("walmart", page, pipeline, newTestDeps(t, resilience.CooldownConfig{}), fastConfig())

	if _, err := a.Scrape(context.Background(), "milk", "47906"); err == nil {
		t.Fatal("expected crawl failure to surface")
	}
}
