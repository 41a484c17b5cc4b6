package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ch-ingest/internal/contact"
	"github.com/sells-group/ch-ingest/internal/export"
	"github.com/sells-group/ch-ingest/internal/ingest"
	"github.com/sells-group/ch-ingest/internal/metrics"
	"github.com/sells-group/ch-ingest/internal/ratelimit"
	"github.com/sells-group/ch-ingest/internal/store"
	"github.com/sells-group/ch-ingest/pkg/companieshouse"
	"github.com/sells-group/ch-ingest/pkg/peoplesearch"
)

const defaultSQLitePath = "ch-ingest.db"

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// appEnv holds the store and shared clients a command needs.
type appEnv struct {
	Store   store.Store
	Metrics *metrics.Metrics
	Redis   *redis.Client // nil unless redis.url is set
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for mode, then opens and migrates the store.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return &appEnv{Store: st}, nil
}

// budget returns the shared Redis budget when one is configured, or nil
// so the pipeline falls back to its in-process counter.
func (e *appEnv) budget(ctx context.Context) (ratelimit.Budget, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}
	if e.Redis == nil {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, eris.Wrap(err, "parse redis url")
		}
		e.Redis = redis.NewClient(opts)
		if err := e.Redis.Ping(ctx).Err(); err != nil {
			return nil, eris.Wrap(err, "ping redis")
		}
	}
	return ratelimit.NewRedisBudget(e.Redis, cfg.Redis.KeyPrefix+":companies_house",
		cfg.Ingest.RequestBudget, cfg.Ingest.Window())
}

// buildPipeline wires the Companies House client, export writer, and
// request budget into an ingestion pipeline.
func (e *appEnv) buildPipeline(ctx context.Context) (*ingest.Pipeline, error) {
	objects, err := export.NewObjectStore(cfg.Export)
	if err != nil {
		return nil, err
	}
	writer := export.NewWriter(objects, export.WithMetrics(e.Metrics))

	ch := companieshouse.NewClient(cfg.CompaniesHouse.Key,
		companieshouse.WithBaseURL(cfg.CompaniesHouse.BaseURL),
		companieshouse.WithHTTPClient(&http.Client{
			Timeout:   time.Duration(cfg.CompaniesHouse.TimeoutSecs) * time.Second,
			Transport: e.Metrics.InstrumentTransport(metrics.ServiceRegistry, nil),
		}),
	)

	opts := []ingest.Option{ingest.WithMetrics(e.Metrics)}
	b, err := e.budget(ctx)
	if err != nil {
		return nil, err
	}
	if b != nil {
		zap.L().Info("using shared redis request budget", zap.String("key_prefix", cfg.Redis.KeyPrefix))
		opts = append(opts, ingest.WithBudget(b))
	}

	return ingest.New(cfg.Ingest, e.Store, ch, writer, opts...), nil
}

// buildContacts wires the people-search client into a resolver and the
// store-backed contact service.
func (e *appEnv) buildContacts() (*contact.Resolver, *contact.Service) {
	client := peoplesearch.NewClient(cfg.PeopleSearch.Key, cfg.PeopleSearch.BaseURL,
		peoplesearch.WithHTTPClient(&http.Client{
			Timeout:   time.Duration(cfg.PeopleSearch.TimeoutSecs) * time.Second,
			Transport: e.Metrics.InstrumentTransport(metrics.ServicePeople, nil),
		}),
	)
	resolver := contact.NewResolver(client,
		contact.WithPageSize(cfg.PeopleSearch.PageSize),
		contact.WithMetrics(e.Metrics),
	)
	svc := contact.NewService(resolver, e.Store,
		contact.WithCallDelay(cfg.Contacts.CallDelay()),
		contact.WithConcurrency(cfg.Contacts.Concurrency),
	)
	return resolver, svc
}
