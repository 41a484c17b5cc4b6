// Package companieshouse provides a client for the Companies House public
// data API: advanced company search and company officer listings.
package companieshouse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ch-ingest/internal/model"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.company-information.service.gov.uk"

// Client defines the Companies House operations used by ingestion.
type Client interface {
	// SearchCompanies returns one page of companies incorporated in the
	// given date range.
	SearchCompanies(ctx context.Context, params SearchParams) (*SearchResponse, error)
	// ListOfficers returns the officers of a company.
	ListOfficers(ctx context.Context, companyNumber string) (*OfficersResponse, error)
}

// SearchParams are the advanced-search query parameters.
type SearchParams struct {
	IncorporatedFrom string
	IncorporatedTo   string
	Size             int
	StartIndex       int
}

// SearchResponse is one page of the advanced-search endpoint.
type SearchResponse struct {
	Items        []model.CompanyRecord `json:"items"`
	TotalResults int                   `json:"total_results"`
	HitsCount    int                   `json:"hits,omitempty"`
}

// OfficersResponse is the officers endpoint body.
type OfficersResponse struct {
	Items         []model.OfficerRecord `json:"items"`
	TotalResults  int                   `json:"total_results"`
	ActiveCount   int                   `json:"active_count"`
	ResignedCount int                   `json:"resigned_count"`
}

// RateLimitError is returned for HTTP 429. HasRetryAfter is false when the
// response carried no usable Retry-After header; an explicit zero is kept.
type RateLimitError struct {
	RetryAfter    time.Duration
	HasRetryAfter bool
}

func (e *RateLimitError) Error() string {
	if e.HasRetryAfter {
		return fmt.Sprintf("companieshouse: rate limited, retry after %s", e.RetryAfter)
	}
	return "companieshouse: rate limited"
}

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("companieshouse: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewClient creates a Companies House client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SearchCompanies(ctx context.Context, p SearchParams) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("incorporated_from", p.IncorporatedFrom)
	q.Set("incorporated_to", p.IncorporatedTo)
	q.Set("size", strconv.Itoa(p.Size))
	q.Set("start_index", strconv.Itoa(p.StartIndex))

	var page struct {
		Items        []json.RawMessage `json:"items"`
		TotalResults int               `json:"total_results"`
		HitsCount    int               `json:"hits,omitempty"`
	}
	if err := c.get(ctx, "/advanced-search/companies?"+q.Encode(), &page); err != nil {
		return nil, err
	}

	out := &SearchResponse{
		Items:        make([]model.CompanyRecord, 0, len(page.Items)),
		TotalResults: page.TotalResults,
		HitsCount:    page.HitsCount,
	}
	for i, raw := range page.Items {
		var rec model.CompanyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, eris.Wrapf(err, "companieshouse: unmarshal search item %d", i)
		}
		rec.Raw = raw
		out.Items = append(out.Items, rec)
	}
	return out, nil
}

func (c *httpClient) ListOfficers(ctx context.Context, companyNumber string) (*OfficersResponse, error) {
	var out OfficersResponse
	if err := c.get(ctx, "/company/"+url.PathEscape(companyNumber)+"/officers", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "companieshouse: create request")
	}
	// The API key is the username; the password is empty.
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "companieshouse: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "companieshouse: read response body")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait, ok := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return &RateLimitError{RetryAfter: wait, HasRetryAfter: ok}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return eris.Wrap(err, "companieshouse: unmarshal response")
	}
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date. ok is false when v
// is absent or unparseable. A date in the past means retry now.
func parseRetryAfter(v string, now time.Time) (wait time.Duration, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
