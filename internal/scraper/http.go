package scraper

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mealcart/pricewatch/internal/resilience"
)

const defaultUserAgent = "pricewatch/1.0"

// maxBodyBytes caps response reads; retailer search pages stay well under this.
const maxBodyBytes = 4 << 20

// httpClient is the shared transport for all sources. Retry and rate
// limiting live in the Adapter, so this layer only performs the request
// and classifies the response.
type httpClient struct {
	client    *http.Client
	userAgent string
}

func newHTTPClient(timeout time.Duration, userAgent string) *httpClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &httpClient{
		client:    &http.Client{Transport: transport, Timeout: timeout},
		userAgent: userAgent,
	}
}

// get performs one GET and returns the body. 429 maps to a rate-limit
// error carrying any Retry-After hint; other non-2xx map to status errors
// so the retry layer can classify them.
func (h *httpClient) get(ctx context.Context, source, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: build request")
	}
	return h.do(source, req, header)
}

func (h *httpClient) do(source string, req *http.Request, header http.Header) ([]byte, error) {
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", h.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "http: %s %s", req.Method, req.URL.Host)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		hint := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, resilience.NewRateLimitError(source, hint,
			eris.Errorf("http 429 from %s", req.URL.Host))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resilience.NewStatusError(resp.StatusCode,
			eris.Errorf("http %d from %s", resp.StatusCode, req.URL.Host))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "http: read body")
	}
	return body, nil
}

func (h *httpClient) getJSON(ctx context.Context, source, rawURL string, header http.Header, out any) error {
	body, err := h.get(ctx, source, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "http: decode %s response", source)
	}
	return nil
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func searchURL(base string, params url.Values) string {
	return base + "?" + params.Encode()
}
