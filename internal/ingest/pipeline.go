// Package ingest runs one ingestion of newly incorporated companies for a
// target date: paginated search, officer enrichment, export and the run
// ledger that records all of it.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ch-ingest/internal/config"
	"github.com/sells-group/ch-ingest/internal/export"
	"github.com/sells-group/ch-ingest/internal/metrics"
	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/ratelimit"
	"github.com/sells-group/ch-ingest/internal/store"
	"github.com/sells-group/ch-ingest/pkg/companieshouse"
)

// DateLayout is the target date format.
const DateLayout = "2006-01-02"

const (
	defaultPageSize          = 100
	defaultRetryAfterSeconds = 60
)

// Result summarizes a run. RunID is set whenever the run row was created,
// including on failure.
type Result struct {
	RunID          string `json:"runId"`
	TargetDate     string `json:"targetDate"`
	TotalCompanies int    `json:"totalCompanies"`
	PagesFetched   int    `json:"pagesFetched"`
	OfficersStored int    `json:"officersStored"`
	JSONLFile      string `json:"jsonlFile,omitempty"`
	CSVFile        string `json:"csvFile,omitempty"`
}

// Pipeline wires the registry client, store and export writer together.
type Pipeline struct {
	cfg     config.IngestConfig
	store   store.Store
	ch      companieshouse.Client
	writer  *export.Writer
	ledger  *Ledger
	budget  ratelimit.Budget
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBudget shares the request budget, e.g. a ratelimit.RedisBudget.
// Without it each run counts requests in-process.
func WithBudget(b ratelimit.Budget) Option {
	return func(p *Pipeline) { p.budget = b }
}

// WithMetrics records run and request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSleep overrides every wait: page and officer delays, 429 backoff and
// budget waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// New creates a Pipeline.
func New(cfg config.IngestConfig, st store.Store, ch companieshouse.Client, writer *export.Writer, opts ...Option) *Pipeline {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.DefaultRetryAfterSecs <= 0 {
		cfg.DefaultRetryAfterSecs = defaultRetryAfterSeconds
	}
	p := &Pipeline{
		cfg:    cfg,
		store:  st,
		ch:     ch,
		writer: writer,
		ledger: NewLedger(st),
		now:    time.Now,
		sleep:  ratelimit.Sleep,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run ingests targetDate end to end. On failure the run is marked failed
// with the error message and the error is returned alongside the partial
// result.
func (p *Pipeline) Run(ctx context.Context, targetDate string) (*Result, error) {
	if _, err := time.Parse(DateLayout, targetDate); err != nil {
		return nil, eris.Wrapf(err, "ingest: invalid target date %q", targetDate)
	}

	started := p.now()
	run, err := p.ledger.Start(ctx, targetDate)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("target_date", targetDate))
	log.Info("ingest: run started")

	res := &Result{RunID: run.ID, TargetDate: targetDate}
	if err := p.execute(ctx, run, res); err != nil {
		// The run must be failed even when ctx was cancelled.
		failCtx := context.WithoutCancel(ctx)
		p.ledger.Log(failCtx, run.ID, model.LogLevelError, "Ingestion failed", map[string]any{"error": err.Error()})
		if ferr := p.ledger.Fail(failCtx, run.ID, err.Error()); ferr != nil {
			log.Error("ingest: could not mark run failed", zap.Error(ferr))
		}
		p.metrics.RunFinished(string(model.RunStatusFailed), p.now().Sub(started))
		return res, err
	}

	p.metrics.RunFinished(string(model.RunStatusCompleted), p.now().Sub(started))
	log.Info("ingest: run completed",
		zap.Int("companies", res.TotalCompanies),
		zap.Int("pages", res.PagesFetched),
		zap.Int("officers", res.OfficersStored),
		zap.Duration("elapsed", p.now().Sub(started)),
	)
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, run *model.Run, res *Result) error {
	limiter := ratelimit.New(ratelimit.Config{
		Budget: p.cfg.RequestBudget,
		Window: p.cfg.Window(),
		Buffer: p.cfg.WaitBuffer(),
	},
		ratelimit.WithBudget(p.budget),
		ratelimit.WithClock(p.now),
		ratelimit.WithSleep(p.sleep),
		ratelimit.OnWait(func(d time.Duration) {
			p.ledger.Log(ctx, run.ID, model.LogLevelInfo, "Request budget exhausted, waiting for next window",
				map[string]any{"wait_seconds": d.Seconds()})
			p.metrics.RateLimitWait(metrics.WaitBudget, d)
		}),
	)

	p.ledger.Log(ctx, run.ID, model.LogLevelInfo, "Starting ingestion", map[string]any{"target_date": run.TargetDate})

	state, err := p.fetchCompanies(ctx, run, limiter)
	if err != nil {
		return err
	}
	res.TotalCompanies = len(state.records)
	res.PagesFetched = state.pages
	p.ledger.Log(ctx, run.ID, model.LogLevelInfo, "Finished fetching companies", map[string]any{
		"companies": res.TotalCompanies,
		"pages":     res.PagesFetched,
	})

	companies, err := p.store.InsertCompanies(ctx, run.ID, state.records)
	if err != nil {
		p.ledger.Log(ctx, run.ID, model.LogLevelError, "Failed to store companies", map[string]any{"error": err.Error()})
		companies = nil
	}

	if p.cfg.SkipOfficers {
		p.ledger.Log(ctx, run.ID, model.LogLevelInfo, "Skipping officer enrichment", nil)
	} else if len(companies) > 0 {
		n, err := p.enrichOfficers(ctx, run, limiter, companies)
		res.OfficersStored = n
		if err != nil {
			return eris.Wrap(err, "ingest: officer enrichment")
		}
		p.ledger.Log(ctx, run.ID, model.LogLevelInfo, "Finished officer enrichment", map[string]any{"officers": n})
	}

	artifacts, err := p.writer.Write(ctx, run.TargetDate, state.records)
	if err != nil {
		return err
	}
	res.JSONLFile = artifacts.JSONL
	res.CSVFile = artifacts.CSV

	if err := p.ledger.Complete(ctx, run.ID, model.RunCompletion{
		Status:         model.RunStatusCompleted,
		TotalCompanies: res.TotalCompanies,
		PagesFetched:   res.PagesFetched,
		JSONLPath:      artifacts.JSONL,
		CSVPath:        artifacts.CSV,
	}); err != nil {
		return err
	}
	p.ledger.Log(ctx, run.ID, model.LogLevelInfo, "Ingestion complete", map[string]any{
		"companies":  res.TotalCompanies,
		"jsonl_file": artifacts.JSONL,
		"csv_file":   artifacts.CSV,
	})
	return nil
}

func (p *Pipeline) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return p.sleep(ctx, d)
}

// DefaultTargetDate returns yesterday's date in loc.
func DefaultTargetDate(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).AddDate(0, 0, -1).Format(DateLayout)
}

// ResolveTargetDate validates date, or defaults it to yesterday in tz when
// empty.
func ResolveTargetDate(date, tz string, now time.Time) (string, error) {
	if date != "" {
		if _, err := time.Parse(DateLayout, date); err != nil {
			return "", eris.Wrapf(err, "ingest: invalid date %q, want YYYY-MM-DD", date)
		}
		return date, nil
	}
	if tz == "" {
		tz = "Europe/London"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: load timezone %s", tz)
	}
	return DefaultTargetDate(now, loc), nil
}
