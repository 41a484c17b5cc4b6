package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ch-ingest/internal/config"
	"github.com/sells-group/ch-ingest/internal/contact"
	"github.com/sells-group/ch-ingest/internal/ingest"
	"github.com/sells-group/ch-ingest/internal/metrics"
	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/store"
)

type fakeIngester struct {
	mu      sync.Mutex
	dates   []string
	block   chan struct{}
	started chan struct{}
	result  *ingest.Result
	err     error
}

func (f *fakeIngester) Run(_ context.Context, date string) (*ingest.Result, error) {
	f.mu.Lock()
	f.dates = append(f.dates, date)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.result, f.err
}

type fakeResolver struct {
	got contact.Query
}

func (f *fakeResolver) Resolve(_ context.Context, q contact.Query) contact.Result {
	f.got = q
	return contact.Result{Found: true, Email: "john@acme.com", Tier: "A", Source: contact.Source}
}

type fakeContacts struct {
	err error
}

func (f *fakeContacts) ResolveOfficer(_ context.Context, officerID string) (*model.OfficerContact, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.OfficerContact{OfficerID: officerID, Found: false, Error: "no profile"}, nil
}

func (f *fakeContacts) ResolveRun(context.Context, string) (*contact.BatchSummary, error) {
	return &contact.BatchSummary{Total: 3, Found: 1, NotFound: 2}, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestServer(t *testing.T, deps Deps) (*Server, *httptest.Server) {
	t.Helper()
	if deps.Store == nil {
		deps.Store = newTestStore(t)
	}
	s := New(config.ServerConfig{}, deps)
	s.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, Deps{})
	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestIngest_DefaultsToYesterday(t *testing.T) {
	ing := &fakeIngester{result: &ingest.Result{
		RunID:          "run-1",
		TotalCompanies: 250,
		PagesFetched:   3,
		JSONLFile:      "https://cdn/companies-2026-10-18.jsonl",
		CSVFile:        "https://cdn/companies-2026-10-18.csv",
	}}
	_, ts := newTestServer(t, Deps{Ingester: ing})

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/ingest", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{
		"success": true,
		"runId": "run-1",
		"totalCompanies": 250,
		"pagesFetched": 3,
		"jsonlFile": "https://cdn/companies-2026-10-18.jsonl",
		"csvFile": "https://cdn/companies-2026-10-18.csv"
	}`, string(body))
	assert.Equal(t, []string{"2026-10-18"}, ing.dates)
}

func TestIngest_ExplicitAndInvalidDate(t *testing.T) {
	ing := &fakeIngester{result: &ingest.Result{RunID: "run-1"}}
	_, ts := newTestServer(t, Deps{Ingester: ing})

	resp, _ := do(t, http.MethodPost, ts.URL+"/api/v1/ingest", `{"date":"2026-10-01"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"2026-10-01"}, ing.dates)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/ingest", `{"date":"01/10/2026"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"success":false`)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/ingest", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngest_Failure(t *testing.T) {
	ing := &fakeIngester{result: &ingest.Result{RunID: "run-9"}, err: errors.New("companieshouse: unexpected status 500")}
	_, ts := newTestServer(t, Deps{Ingester: ing})

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/ingest", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var got ingestResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.False(t, got.Success)
	assert.Equal(t, "run-9", got.RunID)
	assert.Contains(t, got.Error, "500")
}

func TestIngest_RejectsConcurrentTrigger(t *testing.T) {
	ing := &fakeIngester{
		result:  &ingest.Result{RunID: "run-1"},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s, ts := newTestServer(t, Deps{Ingester: ing})

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/api/v1/ingest", "application/json", nil)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close() //nolint:errcheck
		done <- resp.StatusCode
	}()
	<-ing.started
	assert.True(t, s.ingesting.Load())

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/ingest", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "already in progress")

	close(ing.block)
	assert.Equal(t, http.StatusOK, <-done)
	assert.False(t, s.ingesting.Load())
}

func TestIngest_NotConfigured(t *testing.T) {
	_, ts := newTestServer(t, Deps{})
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/v1/ingest", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestContactSearch(t *testing.T) {
	res := &fakeResolver{}
	_, ts := newTestServer(t, Deps{Resolver: res})

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/contacts/search",
		`{"name":"John Smith","location":"United Kingdom","company_sic_code":"62020","detailed_location":"London"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"found":true,"email":"john@acme.com","tier":"A","source":"people_search"}`, string(body))
	assert.Equal(t, []string{"62020"}, res.got.CompanySICCodes)
	assert.Equal(t, "London", res.got.DetailedLocation)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/contacts/search", `{"company_sic_code":42}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestContactSearch_MissingNameIsNotFound(t *testing.T) {
	_, ts := newTestServer(t, Deps{Resolver: contact.NewResolver(nil)})

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/contacts/search", `{"company_sic_code":["62020"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"found":false,"error":"name is required"}`, string(body))
}

func TestStringList(t *testing.T) {
	var l stringList
	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &l))
	assert.Equal(t, stringList{"a", "b"}, l)

	l = nil
	require.NoError(t, json.Unmarshal([]byte(`""`), &l))
	assert.Nil(t, l)

	assert.Error(t, json.Unmarshal([]byte(`42`), &l))
}

func seedRun(t *testing.T, st store.Store) (*model.Run, []model.Company) {
	t.Helper()
	ctx := context.Background()
	run, err := st.CreateRun(ctx, "2026-10-18")
	require.NoError(t, err)
	companies, err := st.InsertCompanies(ctx, run.ID, []model.CompanyRecord{{
		CompanyNumber:  "16000001",
		CompanyName:    "ACME WIDGETS LTD",
		CompanyStatus:  "active",
		DateOfCreation: "2026-10-18",
	}})
	require.NoError(t, err)
	_, err = st.InsertOfficers(ctx, companies[0].ID, []model.OfficerRecord{{Name: "SMITH, John", OfficerRole: "director"}})
	require.NoError(t, err)
	_, err = st.AppendLog(ctx, model.LogEntry{RunID: run.ID, Level: model.LogLevelInfo, Message: "Starting ingestion"})
	require.NoError(t, err)
	_, err = st.AppendLog(ctx, model.LogEntry{RunID: run.ID, Level: model.LogLevelInfo, Message: "Fetched search page"})
	require.NoError(t, err)
	return run, companies
}

func TestRunsEndpoints(t *testing.T) {
	st := newTestStore(t)
	run, companies := seedRun(t, st)
	_, ts := newTestServer(t, Deps{Store: st})

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/runs?status=running", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/runs?status=completed", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"running"`)

	assert.Contains(t, string(body), `"stored_companies":1`)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+run.ID+"/logs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs []model.LogEntry
	require.NoError(t, json.Unmarshal(body, &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, "Starting ingestion", logs[0].Message)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+run.ID+"/logs?after_id="+strconv.FormatInt(logs[0].ID, 10), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "Fetched search page", logs[0].Message)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/runs/"+run.ID+"/companies", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ACME WIDGETS LTD")

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/companies/"+companies[0].ID+"/officers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "SMITH, John")

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/companies/missing/officers", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteRun(t *testing.T) {
	st := newTestStore(t)
	run, _ := seedRun(t, st)
	_, ts := newTestServer(t, Deps{Store: st})

	resp, _ := do(t, http.MethodDelete, ts.URL+"/api/v1/runs/"+run.ID, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "running runs are not deletable")

	require.NoError(t, st.FailRun(context.Background(), run.ID, "boom"))
	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/v1/runs/"+run.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err := st.GetRun(context.Background(), run.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestContactEndpoints(t *testing.T) {
	st := newTestStore(t)
	run, _ := seedRun(t, st)
	_, ts := newTestServer(t, Deps{Store: st, Contacts: &fakeContacts{}})

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/runs/"+run.ID+"/contacts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"total":3,"found":1,"not_found":2,"failed":0}`, string(body))

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/runs/missing/contacts", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodPost, ts.URL+"/api/v1/officers/off-1/contact", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"officer_id":"off-1"`)
}

func TestOfficerContact_NotFound(t *testing.T) {
	_, ts := newTestServer(t, Deps{Contacts: &fakeContacts{err: store.ErrNotFound}})
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/v1/officers/nope/contact", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsAndCORS(t *testing.T) {
	m := metrics.New()
	m.PageFetched(3)
	_, ts := newTestServer(t, Deps{Metrics: m})

	resp, body := do(t, http.MethodGet, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chingest_pages_fetched_total 1")

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/ingest", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer preflight.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", preflight.Header.Get("Access-Control-Allow-Origin"))
}

func TestLatestRun(t *testing.T) {
	st := newTestStore(t)
	run, _ := seedRun(t, st)
	_, ts := newTestServer(t, Deps{Store: st})

	// Defaults to yesterday relative to the fixed clock.
	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/runs/latest", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		ID              string `json:"id"`
		TargetDate      string `json:"target_date"`
		StoredCompanies int    `json:"stored_companies"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "2026-10-18", got.TargetDate)
	assert.Equal(t, 1, got.StoredCompanies)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/runs/latest?date=2026-10-01", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/runs/latest?date=18/10/2026", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOfficerContact(t *testing.T) {
	st := newTestStore(t)
	_, companies := seedRun(t, st)
	_, ts := newTestServer(t, Deps{Store: st})

	officers, err := st.ListOfficers(context.Background(), companies[0].ID)
	require.NoError(t, err)
	require.Len(t, officers, 1)
	officerID := officers[0].ID

	resp, _ := do(t, http.MethodGet, ts.URL+"/api/v1/officers/"+officerID+"/contact", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, st.UpsertOfficerContact(context.Background(), model.OfficerContact{
		OfficerID:  officerID,
		Email:      "john.smith@acme.co.uk",
		Found:      true,
		Source:     contact.Source,
		SearchedAt: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	}))

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/officers/"+officerID+"/contact", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"email":"john.smith@acme.co.uk"`)
	assert.Contains(t, string(body), `"found":true`)
}
