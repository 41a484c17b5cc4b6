package ingest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/ratelimit"
	"github.com/sells-group/ch-ingest/pkg/companieshouse"
)

// enrichOfficers fetches and stores the officers of each company in turn.
// A failure for one company is logged and the loop moves on; only
// cancellation stops it early. Returns the number of officers stored.
func (p *Pipeline) enrichOfficers(ctx context.Context, run *model.Run, limiter *ratelimit.Limiter, companies []model.Company) (int, error) {
	stored := 0
	for _, c := range companies {
		n, err := p.fetchOfficers(ctx, run.ID, limiter, c)
		if err != nil {
			if ctx.Err() != nil {
				return stored, ctx.Err()
			}
			p.ledger.Log(ctx, run.ID, model.LogLevelError, "Failed to fetch officers", map[string]any{
				"company_number": c.CompanyNumber,
				"error":          err.Error(),
			})
		}
		stored += n

		p.ledger.Heartbeat(ctx, run.ID)
		if err := p.pause(ctx, p.cfg.OfficerDelay()); err != nil {
			return stored, err
		}
	}
	return stored, nil
}

func (p *Pipeline) fetchOfficers(ctx context.Context, runID string, limiter *ratelimit.Limiter, c model.Company) (int, error) {
	for {
		if err := limiter.CheckAndWait(ctx); err != nil {
			return 0, err
		}

		resp, err := p.ch.ListOfficers(ctx, c.CompanyNumber)
		if err != nil {
			var rl *companieshouse.RateLimitError
			if errors.As(err, &rl) {
				if err := p.waitRetryAfter(ctx, runID, rl, map[string]any{"company_number": c.CompanyNumber}); err != nil {
					return 0, err
				}
				continue
			}
			return 0, eris.Wrapf(err, "ingest: officers for %s", c.CompanyNumber)
		}

		if len(resp.Items) == 0 {
			return 0, nil
		}
		n, err := p.store.InsertOfficers(ctx, c.ID, resp.Items)
		if err != nil {
			p.ledger.Log(ctx, runID, model.LogLevelError, "Failed to store officers", map[string]any{
				"company_number": c.CompanyNumber,
				"officers":       len(resp.Items),
				"error":          err.Error(),
			})
			return 0, nil
		}
		p.metrics.OfficersIngested(n)
		return n, nil
	}
}
