package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mealcart/pricewatch/internal/extract"
	"github.com/mealcart/pricewatch/internal/model"
)

// SourceOptions configures the concrete retailer sources. Endpoints default
// to the production hosts and are overridable so tests can point at local
// servers.
type SourceOptions struct {
	UserAgent   string
	HTTPTimeout time.Duration

	KrogerBaseURL string
	KrogerToken   string
	TargetBaseURL string
	TargetAPIKey  string
	MeijerBaseURL string

	// CrawlBaseURL is the markdown-rendering crawl service used by the
	// content-style sources. CrawlToken authenticates against it.
	CrawlBaseURL string
	CrawlToken   string
}

func (o SourceOptions) withDefaults() SourceOptions {
	if o.KrogerBaseURL == "" {
		o.KrogerBaseURL = "https://api.kroger.com/v1/products"
	}
	if o.TargetBaseURL == "" {
		o.TargetBaseURL = "https://redsky.target.com/redsky_aggregations/v1/web/plp_search_v2"
	}
	if o.MeijerBaseURL == "" {
		o.MeijerBaseURL = "https://www.meijer.com/bin/meijer/search/products"
	}
	if o.CrawlBaseURL == "" {
		o.CrawlBaseURL = "https://crawl.mealcart.internal/v1/render"
	}
	return o
}

// SourceNames lists the wired sources in registration order.
func SourceNames() []string {
	return []string{
		string(model.StoreKroger),
		string(model.StoreMeijer),
		string(model.StoreTarget),
		string(model.StoreNinetyNine),
		string(model.StoreWalmart),
	}
}

// BuildRegistry wires every known source into a registry. API-style sources
// map structured search responses directly; content-style sources crawl the
// storefront and run the extraction pipeline. cfgFor supplies per-source
// adapter tuning; nil means defaults everywhere.
func BuildRegistry(opts SourceOptions, pipeline *extract.Pipeline, deps Deps, cfgFor func(name string) AdapterConfig) *Registry {
	opts = opts.withDefaults()
	hc := newHTTPClient(opts.HTTPTimeout, opts.UserAgent)
	if cfgFor == nil {
		cfgFor = func(string) AdapterConfig { return AdapterConfig{} }
	}

	kroger := string(model.StoreKroger)
	meijer := string(model.StoreMeijer)
	target := string(model.StoreTarget)
	ranch := string(model.StoreNinetyNine)
	walmart := string(model.StoreWalmart)

	reg := NewRegistry()
	reg.Register(NewAPIAdapter(kroger,
		&krogerAPI{http: hc, baseURL: opts.KrogerBaseURL, token: opts.KrogerToken}, deps, cfgFor(kroger)))
	reg.Register(NewAPIAdapter(meijer,
		&meijerAPI{http: hc, baseURL: opts.MeijerBaseURL}, deps, cfgFor(meijer)))
	reg.Register(NewAPIAdapter(target,
		&targetAPI{http: hc, baseURL: opts.TargetBaseURL, apiKey: opts.TargetAPIKey}, deps, cfgFor(target)))
	reg.Register(NewContentAdapter(ranch,
		newCrawlFetcher(hc, opts, ranch, "https://www.99ranch.com/search?query=%s"),
		pipeline, deps, cfgFor(ranch)))
	reg.Register(NewContentAdapter(walmart,
		newCrawlFetcher(hc, opts, walmart, "https://www.walmart.com/search?q=%s"),
		pipeline, deps, cfgFor(walmart)))
	return reg
}

// krogerAPI searches the Kroger product catalog scoped to a location.
type krogerAPI struct {
	http    *httpClient
	baseURL string
	token   string
}

type krogerSearchResponse struct {
	Data []struct {
		ProductID   string `json:"productId"`
		Description string `json:"description"`
		Items       []struct {
			Price struct {
				Regular float64 `json:"regular"`
				Promo   float64 `json:"promo"`
			} `json:"price"`
			Size string `json:"size"`
		} `json:"items"`
		Images []struct {
			Sizes []struct {
				URL string `json:"url"`
			} `json:"sizes"`
		} `json:"images"`
	} `json:"data"`
}

func (k *krogerAPI) Search(ctx context.Context, keyword, locationKey string) ([]model.RawCandidate, error) {
	params := url.Values{}
	params.Set("filter.term", keyword)
	params.Set("filter.locationId", locationKey)
	params.Set("filter.limit", "24")

	header := http.Header{}
	if k.token != "" {
		header.Set("Authorization", "Bearer "+k.token)
	}

	var resp krogerSearchResponse
	if err := k.http.getJSON(ctx, string(model.StoreKroger), searchURL(k.baseURL, params), header, &resp); err != nil {
		return nil, err
	}

	var cands []model.RawCandidate
	for _, p := range resp.Data {
		if len(p.Items) == 0 {
			continue
		}
		item := p.Items[0]
		price := item.Price.Regular
		if item.Price.Promo > 0 && item.Price.Promo < price {
			price = item.Price.Promo
		}
		cand := model.RawCandidate{
			ExternalID: p.ProductID,
			Name:       p.Description,
			Price:      formatPrice(price),
			Unit:       item.Size,
		}
		if len(p.Images) > 0 && len(p.Images[0].Sizes) > 0 {
			cand.ImageURL = p.Images[0].Sizes[0].URL
		}
		cands = append(cands, cand)
	}
	return cands, nil
}

// targetAPI searches Target's aggregation endpoint for a store.
type targetAPI struct {
	http    *httpClient
	baseURL string
	apiKey  string
}

type targetSearchResponse struct {
	Data struct {
		Search struct {
			Products []struct {
				TCIN string `json:"tcin"`
				Item struct {
					ProductDescription struct {
						Title string `json:"title"`
					} `json:"product_description"`
					Enrichment struct {
						Images struct {
							PrimaryImageURL string `json:"primary_image_url"`
						} `json:"images"`
					} `json:"enrichment"`
				} `json:"item"`
				Price struct {
					CurrentRetail   float64 `json:"current_retail"`
					FormattedUnit   string  `json:"formatted_unit_price"`
					UnitPriceSuffix string  `json:"formatted_unit_price_suffix"`
				} `json:"price"`
			} `json:"products"`
		} `json:"search"`
	} `json:"data"`
}

func (t *targetAPI) Search(ctx context.Context, keyword, locationKey string) ([]model.RawCandidate, error) {
	params := url.Values{}
	params.Set("keyword", keyword)
	params.Set("store_id", locationKey)
	params.Set("count", "24")
	if t.apiKey != "" {
		params.Set("key", t.apiKey)
	}

	var resp targetSearchResponse
	if err := t.http.getJSON(ctx, string(model.StoreTarget), searchURL(t.baseURL, params), nil, &resp); err != nil {
		return nil, err
	}

	var cands []model.RawCandidate
	for _, p := range resp.Data.Search.Products {
		cand := model.RawCandidate{
			ExternalID: p.TCIN,
			Name:       p.Item.ProductDescription.Title,
			Price:      formatPrice(p.Price.CurrentRetail),
			ImageURL:   p.Item.Enrichment.Images.PrimaryImageURL,
		}
		if p.Price.FormattedUnit != "" && p.Price.UnitPriceSuffix != "" {
			cand.PricePerUnit = p.Price.FormattedUnit + " " + p.Price.UnitPriceSuffix
		}
		cands = append(cands, cand)
	}
	return cands, nil
}

// meijerAPI searches Meijer's storefront search endpoint.
type meijerAPI struct {
	http    *httpClient
	baseURL string
}

type meijerSearchResponse struct {
	Products []struct {
		SKU          string  `json:"sku"`
		Name         string  `json:"name"`
		Price        float64 `json:"price"`
		UnitOfSize   string  `json:"unitOfSize"`
		ImageURL     string  `json:"imageUrl"`
		PricePerUnit string  `json:"pricePerUnit"`
	} `json:"products"`
}

func (m *meijerAPI) Search(ctx context.Context, keyword, locationKey string) ([]model.RawCandidate, error) {
	params := url.Values{}
	params.Set("query", keyword)
	params.Set("storeId", locationKey)
	params.Set("rows", "24")

	var resp meijerSearchResponse
	if err := m.http.getJSON(ctx, string(model.StoreMeijer), searchURL(m.baseURL, params), nil, &resp); err != nil {
		return nil, err
	}

	var cands []model.RawCandidate
	for _, p := range resp.Products {
		cands = append(cands, model.RawCandidate{
			ExternalID:   p.SKU,
			Name:         p.Name,
			Price:        formatPrice(p.Price),
			Unit:         p.UnitOfSize,
			ImageURL:     p.ImageURL,
			PricePerUnit: p.PricePerUnit,
		})
	}
	return cands, nil
}

// crawlFetcher renders a retailer search page to markdown through the crawl
// service. The page text goes to the extraction pipeline as-is.
type crawlFetcher struct {
	http        *httpClient
	source      string
	baseURL     string
	token       string
	pagePattern string
}

func newCrawlFetcher(hc *httpClient, opts SourceOptions, source, pagePattern string) *crawlFetcher {
	return &crawlFetcher{
		http:        hc,
		source:      source,
		baseURL:     opts.CrawlBaseURL,
		token:       opts.CrawlToken,
		pagePattern: pagePattern,
	}
}

type crawlRequest struct {
	URL     string `json:"url"`
	Formats string `json:"formats"`
}

type crawlResponse struct {
	Markdown string `json:"markdown"`
}

func (c *crawlFetcher) FetchPage(ctx context.Context, keyword, locationKey string) (string, error) {
	target := fmt.Sprintf(c.pagePattern, url.QueryEscape(keyword))
	payload, err := json.Marshal(crawlRequest{URL: target, Formats: "markdown"})
	if err != nil {
		return "", eris.Wrap(err, "crawl: encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(string(payload)))
	if err != nil {
		return "", eris.Wrap(err, "crawl: build request")
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	body, err := c.http.do(c.source, req, header)
	if err != nil {
		return "", err
	}
	var resp crawlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", eris.Wrapf(err, "crawl: decode response for %s", c.source)
	}
	return resp.Markdown, nil
}

func formatPrice(v float64) model.PriceText {
	if v <= 0 {
		return ""
	}
	return model.PriceText(fmt.Sprintf("%.2f", v))
}
