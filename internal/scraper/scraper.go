// Package scraper defines the uniform retailer scraper contract and the
// adapter that composes rate limiting, retries, caching, and cooldown
// breaking around each retailer's fetch step.
package scraper

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/mealcart/pricewatch/internal/model"
)

// Scraper is the uniform per-retailer contract. Scrape returns an empty
// slice for "no results"; it returns an error only for genuine failures,
// with rate-limit errors machine-checkable via resilience.IsRateLimit so
// the orchestrator can decide whether to abandon the source's chunk.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context, keyword, locationKey string) ([]model.ProductRecord, error)
}

// ProductAPI fetches raw candidates from a retailer with a structured
// search API. The wire format is the implementation's business.
type ProductAPI interface {
	Search(ctx context.Context, keyword, locationKey string) ([]model.RawCandidate, error)
}

// PageFetcher crawls a retailer's search results page and returns its text
// content for the extraction pipeline.
type PageFetcher interface {
	FetchPage(ctx context.Context, keyword, locationKey string) (string, error)
}

// Registry maps source names to scrapers, preserving registration order.
type Registry struct {
	scrapers map[string]Scraper
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]Scraper)}
}

// Register adds a scraper. Re-registering a name replaces the scraper but
// keeps its original position.
func (r *Registry) Register(s Scraper) {
	name := s.Name()
	if _, exists := r.scrapers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.scrapers[name] = s
}

// Get returns a scraper by source name.
func (r *Registry) Get(name string) (Scraper, error) {
	s, ok := r.scrapers[name]
	if !ok {
		return nil, eris.Errorf("scraper: unknown source %q", name)
	}
	return s, nil
}

// All returns every scraper in registration order.
func (r *Registry) All() []Scraper {
	out := make([]Scraper, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.scrapers[name])
	}
	return out
}

// Names returns all registered source names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
