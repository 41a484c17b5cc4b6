package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ch-ingest/internal/db"
	"github.com/sells-group/ch-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                     TEXT PRIMARY KEY,
	status                 TEXT NOT NULL DEFAULT 'pending',
	target_date            TEXT NOT NULL,
	started_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at           TIMESTAMPTZ,
	heartbeat_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	total_companies        INTEGER NOT NULL DEFAULT 0,
	pages_fetched          INTEGER NOT NULL DEFAULT 0,
	total_results_from_api INTEGER,
	error_message          TEXT NOT NULL DEFAULT '',
	jsonl_path             TEXT NOT NULL DEFAULT '',
	csv_path               TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_target_date ON runs(target_date, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status_heartbeat ON runs(status, heartbeat_at);

CREATE TABLE IF NOT EXISTS run_logs (
	id        BIGSERIAL PRIMARY KEY,
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	ts        TIMESTAMPTZ NOT NULL DEFAULT now(),
	level     TEXT NOT NULL,
	message   TEXT NOT NULL,
	metadata  JSONB
);

CREATE INDEX IF NOT EXISTS idx_run_logs_run_id ON run_logs(run_id, id);

CREATE TABLE IF NOT EXISTS companies (
	id               TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	company_number   TEXT NOT NULL,
	company_name     TEXT NOT NULL,
	company_status   TEXT NOT NULL DEFAULT '',
	company_type     TEXT NOT NULL DEFAULT '',
	date_of_creation TEXT NOT NULL DEFAULT '',
	address          JSONB,
	sic_codes        JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_run_id ON companies(run_id);
CREATE INDEX IF NOT EXISTS idx_companies_number ON companies(company_number);

CREATE TABLE IF NOT EXISTS officers (
	id                   TEXT PRIMARY KEY,
	company_id           TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	name                 TEXT NOT NULL,
	officer_role         TEXT NOT NULL DEFAULT '',
	appointed_on         TEXT NOT NULL DEFAULT '',
	is_pre_1992          BOOLEAN NOT NULL DEFAULT false,
	nationality          TEXT NOT NULL DEFAULT '',
	country_of_residence TEXT NOT NULL DEFAULT '',
	occupation           TEXT NOT NULL DEFAULT '',
	person_number        TEXT NOT NULL DEFAULT '',
	address              JSONB,
	date_of_birth        JSONB,
	links                JSONB,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_officers_company_id ON officers(company_id);

CREATE TABLE IF NOT EXISTS officer_contacts (
	officer_id   TEXT PRIMARY KEY REFERENCES officers(id) ON DELETE CASCADE,
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	found        BOOLEAN NOT NULL DEFAULT false,
	error        TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	profile      JSONB,
	searched_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sic_codes (
	code        TEXT PRIMARY KEY,
	description TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS company_sic_codes (
	company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	sic_code   TEXT NOT NULL REFERENCES sic_codes(code),
	PRIMARY KEY (company_id, sic_code)
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Runs ---

const runColumns = `id, status, target_date, started_at, completed_at, heartbeat_at,
	total_companies, pages_fetched, total_results_from_api, error_message, jsonl_path, csv_path`

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.Status, &r.TargetDate, &r.StartedAt, &r.CompletedAt, &r.HeartbeatAt,
		&r.TotalCompanies, &r.PagesFetched, &r.TotalResultsFromAPI, &r.ErrorMessage, &r.JSONLPath, &r.CSVPath)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, targetDate string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, target_date, started_at, heartbeat_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(model.RunStatusRunning), targetDate, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:          id,
		Status:      model.RunStatusRunning,
		TargetDate:  targetDate,
		StartedAt:   now,
		HeartbeatAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, runID string, p model.RunProgress) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET total_companies = $1, pages_fetched = $2,
		 total_results_from_api = COALESCE(total_results_from_api, $3), heartbeat_at = $4
		 WHERE id = $5`,
		p.TotalCompanies, p.PagesFetched, p.TotalResultsFromAPI, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run progress %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) TouchRun(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE runs SET heartbeat_at = $1 WHERE id = $2`, time.Now().UTC(), runID)
	return eris.Wrapf(err, "postgres: touch run %s", runID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, c model.RunCompletion) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = $2, heartbeat_at = $2,
		 total_companies = $3, pages_fetched = $4, jsonl_path = $5, csv_path = $6
		 WHERE id = $7`,
		string(c.Status), now, c.TotalCompanies, c.PagesFetched, c.JSONLPath, c.CSVPath, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = $2, heartbeat_at = $2, error_message = $3 WHERE id = $4`,
		string(model.RunStatusFailed), now, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) LatestRunForDate(ctx context.Context, targetDate string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE target_date = $1 ORDER BY started_at DESC LIMIT 1`,
		targetDate,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run for %s", targetDate)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest run for %s", targetDate)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.TargetDate != "" {
		query += fmt.Sprintf(` AND target_date = $%d`, argIdx)
		args = append(args, filter.TargetDate)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) DeleteRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailStaleRuns(ctx context.Context, heartbeatBefore time.Time, errMsg string) (int, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = $2, error_message = $3
		 WHERE status = $4 AND heartbeat_at < $5`,
		string(model.RunStatusFailed), now, errMsg, string(model.RunStatusRunning), heartbeatBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail stale runs")
	}
	return int(tag.RowsAffected()), nil
}

// --- Logs ---

func (s *PostgresStore) AppendLog(ctx context.Context, e model.LogEntry) (int64, error) {
	metaJSON, err := marshalOptional(e.Metadata)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal log metadata")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO run_logs (run_id, ts, level, message, metadata) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		e.RunID, ts.UTC(), string(e.Level), e.Message, metaJSON,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: append log for run %s", e.RunID)
	}
	return id, nil
}

func (s *PostgresStore) ListLogs(ctx context.Context, runID string, filter LogFilter) ([]model.LogEntry, error) {
	order := "id ASC"
	if filter.Newest {
		order = "ts DESC, id DESC"
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, ts, level, message, metadata FROM run_logs
		 WHERE run_id = $1 AND id > $2 ORDER BY `+order+` LIMIT $3`,
		runID, filter.AfterID, listLimit(filter.Limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list logs for run %s", runID)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Timestamp, &e.Level, &e.Message, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan log")
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list logs iterate")
}

// --- Companies and officers ---

var companyCopyColumns = []string{
	"id", "run_id", "company_number", "company_name", "company_status",
	"company_type", "date_of_creation", "address", "sic_codes", "created_at",
}

func (s *PostgresStore) InsertCompanies(ctx context.Context, runID string, records []model.CompanyRecord) ([]model.Company, error) {
	if len(records) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	companies := make([]model.Company, 0, len(records))
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		c := model.Company{ID: uuid.New().String(), RunID: runID, CreatedAt: now, CompanyRecord: rec}
		addr, err := marshalOptional(rec.RegisteredOfficeAddress)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal company address")
		}
		sics, err := marshalOptional(rec.SicCodes)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal sic codes")
		}
		rows = append(rows, []any{
			c.ID, runID, rec.CompanyNumber, rec.CompanyName, rec.CompanyStatus,
			rec.CompanyType, rec.DateOfCreation, addr, sics, now,
		})
		companies = append(companies, c)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin insert companies")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.CopyFrom(ctx, tx, "companies", companyCopyColumns, rows); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert companies for run %s", runID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit insert companies")
	}
	return companies, nil
}

const companyColumns = `id, run_id, company_number, company_name, company_status, company_type,
	date_of_creation, address, sic_codes, created_at`

func scanCompany(row rowScanner) (*model.Company, error) {
	var c model.Company
	var addr, sics []byte
	if err := row.Scan(&c.ID, &c.RunID, &c.CompanyNumber, &c.CompanyName, &c.CompanyStatus, &c.CompanyType,
		&c.DateOfCreation, &addr, &sics, &c.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(addr, &c.RegisteredOfficeAddress); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(sics, &c.SicCodes); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, runID string) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE run_id = $1 ORDER BY created_at, company_number`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list companies for run %s", runID)
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

func (s *PostgresStore) CountCompanies(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM companies WHERE run_id = $1`, runID).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count companies for run %s", runID)
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, companyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "company %s", companyID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %s", companyID)
	}
	return c, nil
}

var officerCopyColumns = []string{
	"id", "company_id", "name", "officer_role", "appointed_on", "is_pre_1992",
	"nationality", "country_of_residence", "occupation", "person_number",
	"address", "date_of_birth", "links", "created_at",
}

func (s *PostgresStore) InsertOfficers(ctx context.Context, companyID string, records []model.OfficerRecord) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row, err := officerRow(uuid.New().String(), companyID, rec, now)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: encode officer")
		}
		rows = append(rows, row)
	}

	n, err := db.CopyFrom(ctx, s.pool, "officers", officerCopyColumns, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert officers for company %s", companyID)
	}
	return int(n), nil
}

func officerRow(id, companyID string, rec model.OfficerRecord, now time.Time) ([]any, error) {
	addr, err := marshalOptional(rec.Address)
	if err != nil {
		return nil, err
	}
	dob, err := marshalOptional(rec.DateOfBirth)
	if err != nil {
		return nil, err
	}
	links, err := marshalOptional(rec.Links)
	if err != nil {
		return nil, err
	}
	return []any{
		id, companyID, rec.Name, rec.OfficerRole, rec.AppointedOn, rec.IsPre1992Appointment,
		rec.Nationality, rec.CountryOfResidence, rec.Occupation, rec.PersonNumber,
		addr, dob, links, now,
	}, nil
}

const officerColumns = `o.id, o.company_id, o.name, o.officer_role, o.appointed_on, o.is_pre_1992,
	o.nationality, o.country_of_residence, o.occupation, o.person_number,
	o.address, o.date_of_birth, o.links, o.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanOfficer reads officerColumns plus any extra destinations.
func scanOfficer(row rowScanner, extra ...any) (*model.Officer, error) {
	var o model.Officer
	var addr, dob, links []byte
	dest := []any{&o.ID, &o.CompanyID, &o.Name, &o.OfficerRole, &o.AppointedOn, &o.IsPre1992Appointment,
		&o.Nationality, &o.CountryOfResidence, &o.Occupation, &o.PersonNumber,
		&addr, &dob, &links, &o.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(addr, &o.Address); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(dob, &o.DateOfBirth); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(links, &o.Links); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) GetOfficer(ctx context.Context, officerID string) (*model.Officer, error) {
	o, err := scanOfficer(s.pool.QueryRow(ctx, `SELECT `+officerColumns+` FROM officers o WHERE o.id = $1`, officerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "officer %s", officerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get officer %s", officerID)
	}
	return o, nil
}

func (s *PostgresStore) ListOfficers(ctx context.Context, companyID string) ([]model.OfficerWithContact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+officerColumns+`, `+contactJoinColumns+`
		 FROM officers o LEFT JOIN officer_contacts oc ON oc.officer_id = o.id
		 WHERE o.company_id = $1 ORDER BY o.created_at, o.name`,
		companyID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list officers for company %s", companyID)
	}
	defer rows.Close()

	var out []model.OfficerWithContact
	for rows.Next() {
		var cs contactScan
		o, err := scanOfficer(rows, cs.dest()...)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan officer")
		}
		contact, err := cs.contact()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: decode contact")
		}
		out = append(out, model.OfficerWithContact{Officer: *o, Contact: contact})
	}
	return out, eris.Wrap(rows.Err(), "postgres: list officers iterate")
}

func (s *PostgresStore) ListRunOfficers(ctx context.Context, runID string) ([]model.Officer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+officerColumns+` FROM officers o JOIN companies c ON c.id = o.company_id
		 WHERE c.run_id = $1 ORDER BY c.created_at, c.company_number, o.created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list officers for run %s", runID)
	}
	defer rows.Close()

	var out []model.Officer
	for rows.Next() {
		o, err := scanOfficer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan officer")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list run officers iterate")
}

// --- Contacts ---

const contactJoinColumns = `oc.officer_id, oc.email, oc.phone, oc.linkedin_url, oc.found, oc.error,
	oc.source, oc.profile, oc.searched_at, oc.updated_at`

// contactScan holds nullable destinations for a LEFT JOINed contact row.
type contactScan struct {
	officerID, email, phone, linkedIn, errMsg, source *string
	found                                             *bool
	profile                                           []byte
	searchedAt, updatedAt                             *time.Time
}

func (cs *contactScan) dest() []any {
	return []any{&cs.officerID, &cs.email, &cs.phone, &cs.linkedIn, &cs.found, &cs.errMsg,
		&cs.source, &cs.profile, &cs.searchedAt, &cs.updatedAt}
}

func (cs *contactScan) contact() (*model.OfficerContact, error) {
	if cs.officerID == nil {
		return nil, nil
	}
	c := &model.OfficerContact{
		OfficerID:   *cs.officerID,
		Email:       deref(cs.email),
		Phone:       deref(cs.phone),
		LinkedInURL: deref(cs.linkedIn),
		Error:       deref(cs.errMsg),
		Source:      deref(cs.source),
	}
	if cs.found != nil {
		c.Found = *cs.found
	}
	if cs.searchedAt != nil {
		c.SearchedAt = *cs.searchedAt
	}
	if cs.updatedAt != nil {
		c.UpdatedAt = *cs.updatedAt
	}
	if err := unmarshalOptional(cs.profile, &c.Profile); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) UpsertOfficerContact(ctx context.Context, c model.OfficerContact) error {
	profile, err := marshalOptional(c.Profile)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contact profile")
	}
	now := time.Now().UTC()
	searchedAt := c.SearchedAt
	if searchedAt.IsZero() {
		searchedAt = now
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO officer_contacts (officer_id, email, phone, linkedin_url, found, error, source, profile, searched_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (officer_id) DO UPDATE SET
		   email = EXCLUDED.email, phone = EXCLUDED.phone, linkedin_url = EXCLUDED.linkedin_url,
		   found = EXCLUDED.found, error = EXCLUDED.error, source = EXCLUDED.source,
		   profile = EXCLUDED.profile, searched_at = EXCLUDED.searched_at, updated_at = EXCLUDED.updated_at`,
		c.OfficerID, c.Email, c.Phone, c.LinkedInURL, c.Found, c.Error, c.Source, profile, searchedAt.UTC(), now,
	)
	return eris.Wrapf(err, "postgres: upsert contact for officer %s", c.OfficerID)
}

func (s *PostgresStore) GetOfficerContact(ctx context.Context, officerID string) (*model.OfficerContact, error) {
	var cs contactScan
	err := s.pool.QueryRow(ctx,
		`SELECT `+contactJoinColumns+` FROM officer_contacts oc WHERE oc.officer_id = $1`,
		officerID,
	).Scan(cs.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get contact for officer %s", officerID)
	}
	return cs.contact()
}

// --- SIC lookup ---

func (s *PostgresStore) UpsertSicCodes(ctx context.Context, codes []model.SicCode) (int64, error) {
	rows := make([][]any, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, []any{c.Code, c.Description})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "sic_codes",
		Columns:      []string{"code", "description"},
		ConflictKeys: []string{"code"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert sic codes")
}

func (s *PostgresStore) LinkCompanySicCodes(ctx context.Context, runID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO company_sic_codes (company_id, sic_code)
		 SELECT c.id, code.value
		 FROM companies c
		 CROSS JOIN LATERAL jsonb_array_elements_text(COALESCE(c.sic_codes, '[]'::jsonb)) AS code(value)
		 JOIN sic_codes s ON s.code = code.value
		 WHERE c.run_id = $1
		 ON CONFLICT DO NOTHING`,
		runID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: link sic codes for run %s", runID)
	}
	return tag.RowsAffected(), nil
}

// --- helpers ---

// marshalOptional returns nil for nil pointers, nil maps and empty slices
// so the column stays NULL.
func marshalOptional(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case *model.Address:
		if t == nil {
			return nil, nil
		}
	case *model.DateOfBirth:
		if t == nil {
			return nil, nil
		}
	case *model.OfficerLinks:
		if t == nil {
			return nil, nil
		}
	case *model.ContactProfile:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func unmarshalOptional(data []byte, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
