// Package api serves the dashboard HTTP API: the ingestion trigger, contact
// lookups, run history with live logs, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ch-ingest/internal/config"
	"github.com/sells-group/ch-ingest/internal/contact"
	"github.com/sells-group/ch-ingest/internal/ingest"
	"github.com/sells-group/ch-ingest/internal/metrics"
	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Ingester runs one ingestion for a target date.
type Ingester interface {
	Run(ctx context.Context, targetDate string) (*ingest.Result, error)
}

// Resolver looks up contact details for an ad-hoc query.
type Resolver interface {
	Resolve(ctx context.Context, q contact.Query) contact.Result
}

// ContactService resolves and stores contacts for persisted officers.
type ContactService interface {
	ResolveOfficer(ctx context.Context, officerID string) (*model.OfficerContact, error)
	ResolveRun(ctx context.Context, runID string) (*contact.BatchSummary, error)
}

// Deps are the collaborators the handlers call. Ingester, Resolver and
// Contacts may be nil; their endpoints then answer 503.
type Deps struct {
	Store    store.Store
	Ingester Ingester
	Resolver Resolver
	Contacts ContactService
	Metrics  *metrics.Metrics
	Timezone string
}

// Server is the dashboard API.
type Server struct {
	cfg  config.ServerConfig
	deps Deps
	now  func() time.Time

	// ingesting guards against a second trigger while a run is in flight.
	ingesting atomic.Bool
}

// New creates a Server.
func New(cfg config.ServerConfig, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps, now: time.Now}
}

// Serve listens on the configured port until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return eris.Wrapf(err, "api: listen on %s", addr)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("api: server starting", zap.String("addr", addr))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "api: serve")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("api: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "api: shutdown")
	}
	return nil
}
