package contact

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/store"
)

// DefaultCallDelay spaces batch lookups.
const DefaultCallDelay = 500 * time.Millisecond

// BatchSummary counts the outcomes of a batch. Failed lookups are those
// that could not be stored.
type BatchSummary struct {
	Total    int `json:"total"`
	Found    int `json:"found"`
	NotFound int `json:"not_found"`
	Failed   int `json:"failed"`
}

// Service resolves and stores contacts for persisted officers.
type Service struct {
	resolver    *Resolver
	store       store.Store
	callDelay   time.Duration
	concurrency int
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCallDelay sets the minimum spacing between batch lookups. Zero
// disables pacing.
func WithCallDelay(d time.Duration) ServiceOption {
	return func(s *Service) { s.callDelay = d }
}

// WithConcurrency sets how many batch lookups may be in flight.
func WithConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock overrides the time source for SearchedAt.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. Batches are serialized with
// DefaultCallDelay unless configured otherwise.
func NewService(resolver *Resolver, st store.Store, opts ...ServiceOption) *Service {
	s := &Service{
		resolver:    resolver,
		store:       st,
		callDelay:   DefaultCallDelay,
		concurrency: 1,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ResolveOfficer looks up one officer and overwrites its stored contact.
func (s *Service) ResolveOfficer(ctx context.Context, officerID string) (*model.OfficerContact, error) {
	officer, err := s.store.GetOfficer(ctx, officerID)
	if err != nil {
		return nil, eris.Wrapf(err, "contact: load officer %s", officerID)
	}

	var sicCodes []string
	if company, err := s.store.GetCompany(ctx, officer.CompanyID); err == nil {
		sicCodes = company.SicCodes
	} else {
		zap.L().Warn("contact: company lookup failed, searching without SIC codes",
			zap.String("officer_id", officerID), zap.Error(err))
	}

	res := s.resolver.Resolve(ctx, OfficerQuery(officer.OfficerRecord, sicCodes))

	searched := s.now().UTC()
	c := model.OfficerContact{
		OfficerID:   officer.ID,
		Email:       res.Email,
		Phone:       res.Phone,
		LinkedInURL: res.LinkedInURL,
		Found:       res.Found,
		Error:       res.Error,
		Source:      res.Source,
		Profile:     res.Profile,
		SearchedAt:  searched,
		UpdatedAt:   searched,
	}
	if err := s.store.UpsertOfficerContact(ctx, c); err != nil {
		return nil, eris.Wrapf(err, "contact: store contact for officer %s", officerID)
	}
	return &c, nil
}

// ResolveRun looks up every officer of a run. Individual failures are
// counted, never returned; only a failure to list the officers or
// cancellation ends the batch early.
func (s *Service) ResolveRun(ctx context.Context, runID string) (*BatchSummary, error) {
	officers, err := s.store.ListRunOfficers(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "contact: list officers for run %s", runID)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.callDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.callDelay), 1)
	}

	var (
		mu      sync.Mutex
		summary = BatchSummary{Total: len(officers)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, o := range officers {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			c, err := s.ResolveOfficer(gctx, o.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				zap.L().Warn("contact: officer lookup failed",
					zap.String("run_id", runID),
					zap.String("officer_id", o.ID),
					zap.Error(err),
				)
			case c.Found:
				summary.Found++
			default:
				summary.NotFound++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &summary, eris.Wrapf(err, "contact: batch for run %s", runID)
	}

	zap.L().Info("contact: batch complete",
		zap.String("run_id", runID),
		zap.Int("total", summary.Total),
		zap.Int("found", summary.Found),
		zap.Int("not_found", summary.NotFound),
		zap.Int("failed", summary.Failed),
	)
	return &summary, nil
}

// OfficerQuery builds the lookup for an officer. Location is the country of
// residence or address country; the detailed location adds the locality.
func OfficerQuery(o model.OfficerRecord, sicCodes []string) Query {
	q := Query{
		Name:            o.DisplayName(),
		Location:        strings.TrimSpace(o.CountryOfResidence),
		Occupation:      strings.TrimSpace(o.Occupation),
		CompanySICCodes: sicCodes,
	}
	if a := o.Address; a != nil {
		if q.Location == "" {
			q.Location = strings.TrimSpace(a.Country)
		}
		if locality := strings.TrimSpace(a.Locality); locality != "" {
			parts := []string{locality}
			if q.Location != "" {
				parts = append(parts, q.Location)
			}
			q.DetailedLocation = strings.Join(parts, ", ")
		}
	}
	return q
}
