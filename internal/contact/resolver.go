// Package contact looks up officer contact details against the people-search
// API with a chain of progressively narrower searches.
package contact

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/ch-ingest/internal/metrics"
	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/pkg/peoplesearch"
)

// HiddenPrefix marks an email that is only a redacted preview. Such values
// are not deliverable.
const HiddenPrefix = "[Hidden] "

// Source labels results produced by this resolver.
const Source = "people_search"

// Outcomes recorded per lookup.
const (
	OutcomeFound    = "found"
	OutcomeHidden   = "hidden"
	OutcomeNotFound = "not_found"
)

// Query describes the person to look up. Name is required; the other
// fields decide which tiers can run.
type Query struct {
	Name             string   `json:"name"`
	Location         string   `json:"location,omitempty"`
	Occupation       string   `json:"occupation,omitempty"`
	CompanySICCodes  []string `json:"company_sic_code,omitempty"`
	DetailedLocation string   `json:"detailed_location,omitempty"`
}

// Result is the normalized outcome of a lookup.
type Result struct {
	Found       bool                  `json:"found"`
	Email       string                `json:"email,omitempty"`
	Phone       string                `json:"phone,omitempty"`
	LinkedInURL string                `json:"linkedin_url,omitempty"`
	Source      string                `json:"source,omitempty"`
	Tier        string                `json:"tier,omitempty"`
	Error       string                `json:"error,omitempty"`
	Profile     *model.ContactProfile `json:"profile,omitempty"`
}

// IsDeliverable reports whether email can actually be sent to.
func IsDeliverable(email string) bool {
	email = strings.TrimSpace(email)
	return email != "" && !strings.HasPrefix(email, strings.TrimSpace(HiddenPrefix))
}

type tier struct {
	name   string
	params func(q Query) (peoplesearch.SearchParams, bool)
}

// tiers run in order: A narrows by classification, B by detailed
// location, C by location alone.
var tiers = []tier{
	{name: "A", params: func(q Query) (peoplesearch.SearchParams, bool) {
		if q.Location == "" || (len(q.CompanySICCodes) == 0 && q.Occupation == "") {
			return peoplesearch.SearchParams{}, false
		}
		p := peoplesearch.SearchParams{Name: q.Name, Geo: []string{q.Location}}
		if len(q.CompanySICCodes) > 0 {
			p.CompanySICCodes = q.CompanySICCodes
		} else {
			p.CurrentTitles = []string{q.Occupation}
		}
		return p, true
	}},
	{name: "B", params: func(q Query) (peoplesearch.SearchParams, bool) {
		if q.DetailedLocation == "" {
			return peoplesearch.SearchParams{}, false
		}
		return peoplesearch.SearchParams{Name: q.Name, Geo: []string{q.DetailedLocation}}, true
	}},
	{name: "C", params: func(q Query) (peoplesearch.SearchParams, bool) {
		if q.Location == "" {
			return peoplesearch.SearchParams{}, false
		}
		return peoplesearch.SearchParams{Name: q.Name, Geo: []string{q.Location}}, true
	}},
}

// Resolver runs the tier chain for a single query.
type Resolver struct {
	client   peoplesearch.Client
	pageSize int
	metrics  *metrics.Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPageSize sets how many profiles each tier asks for.
func WithPageSize(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithMetrics records lookup outcomes.
func WithMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver over client.
func NewResolver(client peoplesearch.Client, opts ...ResolverOption) *Resolver {
	r := &Resolver{client: client, pageSize: 10}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve never returns an error: failed tiers fall through and an
// exhausted chain yields Found=false with a reason.
func (r *Resolver) Resolve(ctx context.Context, q Query) Result {
	q = normalizeQuery(q)
	if q.Name == "" {
		return r.record(Result{Found: false, Error: "name is required"})
	}

	log := zap.L().With(zap.String("name", q.Name))
	var tried []string
	for _, t := range tiers {
		params, ok := t.params(q)
		if !ok {
			continue
		}
		tried = append(tried, t.name)
		params.PageSize = r.pageSize

		resp, err := r.client.Search(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return r.record(Result{Found: false, Error: "lookup cancelled: " + ctx.Err().Error()})
			}
			log.Warn("contact: search tier failed", zap.String("tier", t.name), zap.Error(err))
			continue
		}
		if resp.Error != "" {
			log.Warn("contact: search tier returned error", zap.String("tier", t.name), zap.String("error", resp.Error))
			continue
		}

		if p := firstUsable(resp.Profiles); p != nil {
			res := normalize(p)
			res.Tier = t.name
			log.Debug("contact: profile found", zap.String("tier", t.name), zap.Bool("deliverable", IsDeliverable(res.Email)))
			return r.record(res)
		}
	}

	if len(tried) == 0 {
		return r.record(Result{Found: false, Error: "not enough search criteria: location or detailed_location is required"})
	}
	return r.record(Result{
		Found: false,
		Error: "no profile with contact details found (tiers tried: " + strings.Join(tried, ", ") + ")",
	})
}

func (r *Resolver) record(res Result) Result {
	outcome := OutcomeNotFound
	if res.Found {
		outcome = OutcomeFound
		if strings.HasPrefix(res.Email, HiddenPrefix) {
			outcome = OutcomeHidden
		}
	}
	r.metrics.ContactLookup(outcome, res.Tier)
	return res
}

func normalizeQuery(q Query) Query {
	q.Name = strings.TrimSpace(q.Name)
	q.Location = strings.TrimSpace(q.Location)
	q.Occupation = strings.TrimSpace(q.Occupation)
	q.DetailedLocation = strings.TrimSpace(q.DetailedLocation)
	codes := q.CompanySICCodes[:0:0]
	for _, c := range q.CompanySICCodes {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	q.CompanySICCodes = codes
	return q
}

func firstUsable(profiles []peoplesearch.Profile) *peoplesearch.Profile {
	for i := range profiles {
		if hasContactSurface(&profiles[i]) {
			return &profiles[i]
		}
	}
	return nil
}

func hasContactSurface(p *peoplesearch.Profile) bool {
	if p.LinkedInURL != "" {
		return true
	}
	t := p.Teaser
	if t == nil {
		return false
	}
	return len(t.Emails) > 0 || len(t.ProfessionalEmails) > 0 || len(t.PersonalEmails) > 0 ||
		len(t.Phones) > 0 || len(t.Preview) > 0
}

func normalize(p *peoplesearch.Profile) Result {
	res := Result{
		Found:       true,
		LinkedInURL: p.LinkedInURL,
		Source:      Source,
		Profile: &model.ContactProfile{
			Name:     p.Name,
			Title:    p.CurrentTitle,
			Employer: p.CurrentEmployer,
			Location: p.Location,
		},
	}
	t := p.Teaser
	if t == nil {
		return res
	}

	res.Phone = firstNonEmpty(t.Phones)
	if email := firstDeliverableEmail(t.ProfessionalEmails, t.Emails, t.PersonalEmails); email != "" {
		res.Email = email
		return res
	}

	// Only a redacted form is available.
	preview := firstNonEmpty(t.Preview)
	if preview == "" {
		preview = firstNonEmpty(append(append(append([]string{}, t.ProfessionalEmails...), t.Emails...), t.PersonalEmails...))
	}
	if preview != "" {
		res.Email = HiddenPrefix + preview
		res.Error = "email is only available as a redacted preview"
	}
	return res
}

// firstDeliverableEmail skips masked values such as "j***@acme.com" and
// bare domains.
func firstDeliverableEmail(lists ...[]string) string {
	for _, list := range lists {
		for _, e := range list {
			e = strings.TrimSpace(e)
			if strings.Contains(e, "@") && !strings.Contains(e, "*") && !strings.HasPrefix(e, "@") {
				return e
			}
		}
	}
	return ""
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
