// Package peoplesearch provides a client for the people-search profile API
// used to discover officer contact details.
package peoplesearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the people-search operations.
type Client interface {
	Search(ctx context.Context, params SearchParams) (*SearchResponse, error)
}

// SearchParams are the query parameters of a profile search. Slice values
// are sent as repeated array parameters (geo[]=a&geo[]=b).
type SearchParams struct {
	Name            string
	Geo             []string
	CompanySICCodes []string
	CurrentTitles   []string
	Start           int
	PageSize        int
}

// SearchResponse is the search endpoint body. Error is set by the API for
// soft failures returned with a 2xx status.
type SearchResponse struct {
	Profiles []Profile `json:"profiles"`
	Error    string    `json:"error,omitempty"`
}

// Profile is one matched person.
type Profile struct {
	Name            string  `json:"name"`
	CurrentTitle    string  `json:"current_title"`
	CurrentEmployer string  `json:"current_employer"`
	Location        string  `json:"location"`
	LinkedInURL     string  `json:"linkedin_url"`
	Teaser          *Teaser `json:"teaser"`
}

// Teaser holds the contact surface revealed without spending credits.
type Teaser struct {
	Emails             []string `json:"emails"`
	ProfessionalEmails []string `json:"professional_emails"`
	PersonalEmails     []string `json:"personal_emails"`
	Phones             []string `json:"phones"`
	Preview            []string `json:"preview"`
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

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a people-search client for the API at baseURL.
func NewClient(apiKey, baseURL string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 20 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, p SearchParams) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("name", p.Name)
	for _, g := range p.Geo {
		q.Add("geo[]", g)
	}
	for _, s := range p.CompanySICCodes {
		q.Add("company_sic_code[]", s)
	}
	for _, t := range p.CurrentTitles {
		q.Add("current_title[]", t)
	}
	q.Set("start", strconv.Itoa(p.Start))
	if p.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(p.PageSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "peoplesearch: create request")
	}
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "peoplesearch: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "peoplesearch: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, eris.Errorf("peoplesearch: unexpected status %d", resp.StatusCode)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, eris.New("peoplesearch: empty response body")
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "peoplesearch: unmarshal response")
	}
	return &out, nil
}
