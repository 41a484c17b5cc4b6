package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/ch-ingest/internal/contact"
	"github.com/sells-group/ch-ingest/internal/ingest"
	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// writeStoreError maps store.ErrNotFound to 404 and anything else to 500.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{what + " not found"})
		return
	}
	zap.L().Error("api: store error", zap.String("resource", what), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})
}

// decodeBody decodes an optional JSON body. An empty body is not an error.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Ingestion trigger ---

type ingestRequest struct {
	Date string `json:"date"`
}

type ingestResponse struct {
	Success        bool   `json:"success"`
	RunID          string `json:"runId,omitempty"`
	TotalCompanies int    `json:"totalCompanies"`
	PagesFetched   int    `json:"pagesFetched"`
	JSONLFile      string `json:"jsonlFile,omitempty"`
	CSVFile        string `json:"csvFile,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil {
		writeJSON(w, http.StatusServiceUnavailable, ingestResponse{Error: "ingestion is not configured"})
		return
	}

	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: "invalid request body"})
		return
	}
	date, err := ingest.ResolveTargetDate(strings.TrimSpace(req.Date), s.deps.Timezone, s.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Error: "date must be YYYY-MM-DD"})
		return
	}

	res, started, err := s.runExclusive(r.Context(), date)
	if !started {
		writeJSON(w, http.StatusConflict, ingestResponse{Error: "an ingestion run is already in progress"})
		return
	}
	if err != nil {
		resp := ingestResponse{Error: err.Error()}
		if res != nil {
			resp.RunID = res.RunID
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Success:        true,
		RunID:          res.RunID,
		TotalCompanies: res.TotalCompanies,
		PagesFetched:   res.PagesFetched,
		JSONLFile:      res.JSONLFile,
		CSVFile:        res.CSVFile,
	})
}

// runExclusive runs the ingester unless a run is already in flight. A
// dashboard disconnect does not abort the run.
func (s *Server) runExclusive(ctx context.Context, date string) (*ingest.Result, bool, error) {
	if !s.ingesting.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	defer s.ingesting.Store(false)

	res, err := s.deps.Ingester.Run(context.WithoutCancel(ctx), date)
	return res, true, err
}

// --- Contacts ---

// stringList accepts either a single string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one != "" {
			*l = stringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

type contactSearchRequest struct {
	Name             string     `json:"name"`
	Location         string     `json:"location"`
	Occupation       string     `json:"occupation"`
	CompanySICCode   stringList `json:"company_sic_code"`
	DetailedLocation string     `json:"detailed_location"`
}

func (s *Server) handleContactSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resolver == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{"contact search is not configured"})
		return
	}

	var req contactSearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid request body"})
		return
	}
	res := s.deps.Resolver.Resolve(r.Context(), contact.Query{
		Name:             req.Name,
		Location:         req.Location,
		Occupation:       req.Occupation,
		CompanySICCodes:  req.CompanySICCode,
		DetailedLocation: req.DetailedLocation,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOfficerContact(w http.ResponseWriter, r *http.Request) {
	if s.deps.Contacts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{"contact search is not configured"})
		return
	}
	c, err := s.deps.Contacts.ResolveOfficer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "officer")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetOfficerContact(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Store.GetOfficerContact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "contact")
		return
	}
	if c == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"contact not found"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRunContacts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Contacts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{"contact search is not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Store.GetRun(r.Context(), id); err != nil {
		writeStoreError(w, err, "run")
		return
	}
	summary, err := s.deps.Contacts.ResolveRun(r.Context(), id)
	if err != nil {
		zap.L().Error("api: batch contact lookup", zap.String("run_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- Runs ---

func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, okLimit := queryInt(r, "limit", 50)
	offset, okOffset := queryInt(r, "offset", 0)
	if !okLimit || !okOffset {
		writeJSON(w, http.StatusBadRequest, errorResponse{"limit and offset must be non-negative integers"})
		return
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), store.RunFilter{
		Status:     model.RunStatus(r.URL.Query().Get("status")),
		TargetDate: r.URL.Query().Get("date"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeStoreError(w, err, "runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// runDetail adds the number of company rows actually persisted, which can
// trail total_companies when a bulk insert failed.
type runDetail struct {
	*model.Run
	StoredCompanies int `json:"stored_companies"`
}

func (s *Server) writeRunDetail(w http.ResponseWriter, r *http.Request, run *model.Run) {
	n, err := s.deps.Store.CountCompanies(r.Context(), run.ID)
	if err != nil {
		writeStoreError(w, err, "companies")
		return
	}
	writeJSON(w, http.StatusOK, runDetail{Run: run, StoredCompanies: n})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "run")
		return
	}
	s.writeRunDetail(w, r, run)
}

// handleLatestRun returns the most recent run for ?date=, defaulting to the
// same date a bare trigger would ingest.
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	date, err := ingest.ResolveTargetDate(r.URL.Query().Get("date"), s.deps.Timezone, s.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"date must be YYYY-MM-DD"})
		return
	}
	run, err := s.deps.Store.LatestRunForDate(r.Context(), date)
	if err != nil {
		writeStoreError(w, err, "run")
		return
	}
	s.writeRunDetail(w, r, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.deps.Store.GetRun(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "run")
		return
	}
	if run.Status == model.RunStatusRunning {
		writeJSON(w, http.StatusConflict, errorResponse{"run is still in progress"})
		return
	}
	if err := s.deps.Store.DeleteRun(r.Context(), id); err != nil {
		writeStoreError(w, err, "run")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, okLimit := queryInt(r, "limit", 200)
	after, okAfter := queryInt(r, "after_id", 0)
	if !okLimit || !okAfter {
		writeJSON(w, http.StatusBadRequest, errorResponse{"limit and after_id must be non-negative integers"})
		return
	}
	if _, err := s.deps.Store.GetRun(r.Context(), id); err != nil {
		writeStoreError(w, err, "run")
		return
	}

	entries, err := s.deps.Store.ListLogs(r.Context(), id, store.LogFilter{
		AfterID: int64(after),
		Newest:  r.URL.Query().Get("order") == "newest",
		Limit:   limit,
	})
	if err != nil {
		writeStoreError(w, err, "logs")
		return
	}
	if entries == nil {
		entries = []model.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRunCompanies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Store.GetRun(r.Context(), id); err != nil {
		writeStoreError(w, err, "run")
		return
	}
	companies, err := s.deps.Store.ListCompanies(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "companies")
		return
	}
	if companies == nil {
		companies = []model.Company{}
	}
	writeJSON(w, http.StatusOK, companies)
}

func (s *Server) handleCompanyOfficers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Store.GetCompany(r.Context(), id); err != nil {
		writeStoreError(w, err, "company")
		return
	}
	officers, err := s.deps.Store.ListOfficers(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "officers")
		return
	}
	if officers == nil {
		officers = []model.OfficerWithContact{}
	}
	writeJSON(w, http.StatusOK, officers)
}
