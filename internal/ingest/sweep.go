package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ch-ingest/internal/config"
	"github.com/sells-group/ch-ingest/internal/metrics"
	"github.com/sells-group/ch-ingest/internal/store"
)

// StaleRunMessage is the error recorded on runs failed by the sweeper.
const StaleRunMessage = "run abandoned: heartbeat expired"

// Sweeper fails running runs whose heartbeat is older than staleAfter.
type Sweeper struct {
	store      store.Store
	staleAfter time.Duration
	interval   time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewSweeper creates a Sweeper. Zero durations default to 30 minutes for
// staleness and 5 minutes between sweeps.
func NewSweeper(st store.Store, cfg config.SweepConfig, m *metrics.Metrics) *Sweeper {
	s := &Sweeper{
		store:      st,
		staleAfter: cfg.StaleAfter(),
		interval:   cfg.Interval(),
		metrics:    m,
		now:        time.Now,
	}
	if s.staleAfter <= 0 {
		s.staleAfter = 30 * time.Minute
	}
	if s.interval <= 0 {
		s.interval = 5 * time.Minute
	}
	return s
}

// SweepOnce fails every stale running run and returns how many it failed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	n, err := s.store.FailStaleRuns(ctx, cutoff, StaleRunMessage)
	if err != nil {
		return 0, eris.Wrap(err, "sweep: fail stale runs")
	}
	s.metrics.StaleRunsFailed(n)
	if n > 0 {
		zap.L().Warn("sweep: failed abandoned runs",
			zap.Int("runs", n),
			zap.Time("heartbeat_before", cutoff),
		)
	}
	return n, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "ingest.sweeper"))
	log.Info("starting stale run sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_after", s.staleAfter),
	)

	s.sweep(ctx, log)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("stale run sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx, log)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, log *zap.Logger) {
	if _, err := s.SweepOnce(ctx); err != nil {
		log.Error("sweep failed", zap.Error(err))
	}
}
