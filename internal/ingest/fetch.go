package ingest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ch-ingest/internal/metrics"
	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/ratelimit"
	"github.com/sells-group/ch-ingest/pkg/companieshouse"
)

// fetchState is the pagination state of one run's search loop.
type fetchState struct {
	pageSize     int
	maxCompanies int

	offset       int
	pages        int
	lastPageSize int
	total        *int
	records      []model.CompanyRecord
}

func (s *fetchState) reachedUpstreamTotal() bool {
	return s.total != nil && s.offset >= *s.total
}

func (s *fetchState) hitConfiguredCap() bool {
	return s.maxCompanies > 0 && len(s.records) >= s.maxCompanies
}

// shortPageReceived covers the empty page too.
func (s *fetchState) shortPageReceived() bool {
	return s.pages > 0 && s.lastPageSize < s.pageSize
}

func (s *fetchState) done() bool {
	return s.reachedUpstreamTotal() || s.hitConfiguredCap() || s.shortPageReceived()
}

// accept records a successful page. Items beyond the configured cap are
// dropped.
func (s *fetchState) accept(resp *companieshouse.SearchResponse) {
	items := resp.Items
	if s.maxCompanies > 0 {
		if room := s.maxCompanies - len(s.records); len(items) > room {
			items = items[:room]
		}
	}
	s.records = append(s.records, items...)
	s.pages++
	s.lastPageSize = len(resp.Items)
	s.offset += s.pageSize
	if s.total == nil {
		total := resp.TotalResults
		s.total = &total
	}
}

// fetchCompanies pages through the advanced search for the run's target
// date. A 429 waits and retries the same offset; any other error ends the
// run.
func (p *Pipeline) fetchCompanies(ctx context.Context, run *model.Run, limiter *ratelimit.Limiter) (*fetchState, error) {
	st := &fetchState{pageSize: p.cfg.PageSize, maxCompanies: p.cfg.MaxCompanies}

	for !st.done() {
		if err := limiter.CheckAndWait(ctx); err != nil {
			return nil, err
		}

		resp, err := p.ch.SearchCompanies(ctx, companieshouse.SearchParams{
			IncorporatedFrom: run.TargetDate,
			IncorporatedTo:   run.TargetDate,
			Size:             st.pageSize,
			StartIndex:       st.offset,
		})
		if err != nil {
			var rl *companieshouse.RateLimitError
			if errors.As(err, &rl) {
				if err := p.waitRetryAfter(ctx, run.ID, rl, map[string]any{"start_index": st.offset}); err != nil {
					return nil, err
				}
				continue
			}
			return nil, eris.Wrapf(err, "ingest: search page at offset %d", st.offset)
		}

		first := st.pages == 0
		st.accept(resp)
		p.metrics.PageFetched(len(resp.Items))

		progress := model.RunProgress{TotalCompanies: len(st.records), PagesFetched: st.pages}
		if first {
			progress.TotalResultsFromAPI = st.total
		}
		if err := p.ledger.Progress(ctx, run.ID, progress); err != nil {
			return nil, err
		}
		p.ledger.Log(ctx, run.ID, model.LogLevelInfo, "Fetched search page", map[string]any{
			"page":          st.pages,
			"items":         len(resp.Items),
			"total_so_far":  len(st.records),
			"total_results": resp.TotalResults,
		})

		if !st.done() {
			if err := p.pause(ctx, p.cfg.PageDelay()); err != nil {
				return nil, err
			}
		}
	}
	return st, nil
}

// waitRetryAfter sleeps out an upstream 429, falling back to the configured
// default when no Retry-After was sent.
func (p *Pipeline) waitRetryAfter(ctx context.Context, runID string, rl *companieshouse.RateLimitError, meta map[string]any) error {
	wait := rl.RetryAfter
	if !rl.HasRetryAfter {
		wait = p.cfg.DefaultRetryAfter()
	}
	meta["retry_after_seconds"] = wait.Seconds()
	p.ledger.Log(ctx, runID, model.LogLevelWarning, "Rate limited by Companies House, retrying", meta)
	p.metrics.RateLimitWait(metrics.WaitRetryAfter, wait)
	return p.pause(ctx, wait)
}
