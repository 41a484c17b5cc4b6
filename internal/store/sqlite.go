package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ch-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied to every pooled connection via the DSN.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// NewSQLite opens a SQLite database at the given path with foreign keys
// enforced and WAL mode enabled.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(dsn string) string {
	params := make([]string, 0, len(sqlitePragmas))
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                     TEXT PRIMARY KEY,
	status                 TEXT NOT NULL DEFAULT 'pending',
	target_date            TEXT NOT NULL,
	started_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at           DATETIME,
	heartbeat_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	total_companies        INTEGER NOT NULL DEFAULT 0,
	pages_fetched          INTEGER NOT NULL DEFAULT 0,
	total_results_from_api INTEGER,
	error_message          TEXT NOT NULL DEFAULT '',
	jsonl_path             TEXT NOT NULL DEFAULT '',
	csv_path               TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_logs (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	ts       DATETIME NOT NULL,
	level    TEXT NOT NULL,
	message  TEXT NOT NULL,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS companies (
	id               TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	company_number   TEXT NOT NULL,
	company_name     TEXT NOT NULL,
	company_status   TEXT NOT NULL DEFAULT '',
	company_type     TEXT NOT NULL DEFAULT '',
	date_of_creation TEXT NOT NULL DEFAULT '',
	address          TEXT,
	sic_codes        TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS officers (
	id                   TEXT PRIMARY KEY,
	company_id           TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	name                 TEXT NOT NULL,
	officer_role         TEXT NOT NULL DEFAULT '',
	appointed_on         TEXT NOT NULL DEFAULT '',
	is_pre_1992          INTEGER NOT NULL DEFAULT 0,
	nationality          TEXT NOT NULL DEFAULT '',
	country_of_residence TEXT NOT NULL DEFAULT '',
	occupation           TEXT NOT NULL DEFAULT '',
	person_number        TEXT NOT NULL DEFAULT '',
	address              TEXT,
	date_of_birth        TEXT,
	links                TEXT,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS officer_contacts (
	officer_id   TEXT PRIMARY KEY REFERENCES officers(id) ON DELETE CASCADE,
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	found        INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	profile      TEXT,
	searched_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
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

CREATE INDEX IF NOT EXISTS idx_runs_target_date ON runs(target_date, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status_heartbeat ON runs(status, heartbeat_at);
CREATE INDEX IF NOT EXISTS idx_run_logs_run_id ON run_logs(run_id, id);
CREATE INDEX IF NOT EXISTS idx_companies_run_id ON companies(run_id);
CREATE INDEX IF NOT EXISTS idx_officers_company_id ON officers(company_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTimeLayout is fixed width so stored timestamps compare lexically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, targetDate string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, target_date, started_at, heartbeat_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), targetDate, sqliteTime(now), sqliteTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &model.Run{
		ID:          id,
		Status:      model.RunStatusRunning,
		TargetDate:  targetDate,
		StartedAt:   now,
		HeartbeatAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, runID string, p model.RunProgress) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET total_companies = ?, pages_fetched = ?,
		 total_results_from_api = COALESCE(total_results_from_api, ?), heartbeat_at = ?
		 WHERE id = ?`,
		p.TotalCompanies, p.PagesFetched, p.TotalResultsFromAPI, sqliteTime(time.Now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run progress %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) TouchRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET heartbeat_at = ? WHERE id = ?`, sqliteTime(time.Now()), runID)
	return eris.Wrapf(err, "sqlite: touch run %s", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, c model.RunCompletion) error {
	now := sqliteTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, heartbeat_at = ?,
		 total_companies = ?, pages_fetched = ?, jsonl_path = ?, csv_path = ?
		 WHERE id = ?`,
		string(c.Status), now, now, c.TotalCompanies, c.PagesFetched, c.JSONLPath, c.CSVPath, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	now := sqliteTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, heartbeat_at = ?, error_message = ? WHERE id = ?`,
		string(model.RunStatusFailed), now, now, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, status, target_date, started_at, completed_at, heartbeat_at,
	total_companies, pages_fetched, total_results_from_api, error_message, jsonl_path, csv_path`

func scanRun(row rowScanner) (*model.Run, error) {
	var r model.Run
	var completedAt sql.NullTime
	var totalFromAPI sql.NullInt64

	err := row.Scan(&r.ID, &r.Status, &r.TargetDate, &r.StartedAt, &completedAt, &r.HeartbeatAt,
		&r.TotalCompanies, &r.PagesFetched, &totalFromAPI, &r.ErrorMessage, &r.JSONLPath, &r.CSVPath)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if totalFromAPI.Valid {
		n := int(totalFromAPI.Int64)
		r.TotalResultsFromAPI = &n
	}
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) LatestRunForDate(ctx context.Context, targetDate string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE target_date = ? ORDER BY started_at DESC LIMIT 1`,
		targetDate,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run for %s", targetDate)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest run for %s", targetDate)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.TargetDate != "" {
		query += ` AND target_date = ?`
		args = append(args, filter.TargetDate)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailStaleRuns(ctx context.Context, heartbeatBefore time.Time, errMsg string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error_message = ?
		 WHERE status = ? AND heartbeat_at < ?`,
		string(model.RunStatusFailed), sqliteTime(time.Now()), errMsg,
		string(model.RunStatusRunning), sqliteTime(heartbeatBefore),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail stale runs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- Logs ---

func (s *SQLiteStore) AppendLog(ctx context.Context, e model.LogEntry) (int64, error) {
	metaJSON, err := marshalOptional(e.Metadata)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal log metadata")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs (run_id, ts, level, message, metadata) VALUES (?, ?, ?, ?, ?)`,
		e.RunID, sqliteTime(ts), string(e.Level), e.Message, nullableJSON(metaJSON),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: append log for run %s", e.RunID)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: last insert id")
}

func (s *SQLiteStore) ListLogs(ctx context.Context, runID string, filter LogFilter) ([]model.LogEntry, error) {
	order := "id ASC"
	if filter.Newest {
		order = "ts DESC, id DESC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, ts, level, message, metadata FROM run_logs
		 WHERE run_id = ? AND id > ? ORDER BY `+order+` LIMIT ?`,
		runID, filter.AfterID, listLimit(filter.Limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list logs for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Timestamp, &e.Level, &e.Message, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log")
		}
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list logs iterate")
}

// --- Companies and officers ---

func (s *SQLiteStore) InsertCompanies(ctx context.Context, runID string, records []model.CompanyRecord) ([]model.Company, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin insert companies")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO companies (id, run_id, company_number, company_name, company_status,
		 company_type, date_of_creation, address, sic_codes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare insert companies")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	companies := make([]model.Company, 0, len(records))
	for _, rec := range records {
		c := model.Company{ID: uuid.New().String(), RunID: runID, CreatedAt: now, CompanyRecord: rec}
		addr, err := marshalOptional(rec.RegisteredOfficeAddress)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal company address")
		}
		sics, err := marshalOptional(rec.SicCodes)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal sic codes")
		}
		if _, err := stmt.ExecContext(ctx, c.ID, runID, rec.CompanyNumber, rec.CompanyName, rec.CompanyStatus,
			rec.CompanyType, rec.DateOfCreation, nullableJSON(addr), nullableJSON(sics), sqliteTime(now)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert company %s", rec.CompanyNumber)
		}
		companies = append(companies, c)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit insert companies")
	}
	return companies, nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, runID string) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE run_id = ? ORDER BY created_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list companies for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func (s *SQLiteStore) CountCompanies(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM companies WHERE run_id = ?`, runID).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count companies for run %s", runID)
}

func (s *SQLiteStore) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	c, err := scanCompany(s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "company %s", companyID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %s", companyID)
	}
	return c, nil
}

func (s *SQLiteStore) InsertOfficers(ctx context.Context, companyID string, records []model.OfficerRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert officers")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO officers (`+strings.Join(officerCopyColumns, ", ")+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert officers")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, rec := range records {
		row, err := officerRow(uuid.New().String(), companyID, rec, now)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: encode officer")
		}
		// JSON columns and the timestamp need SQLite-friendly encodings.
		for i := 10; i <= 12; i++ {
			row[i] = nullableJSON(row[i].([]byte))
		}
		row[13] = sqliteTime(now)
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert officer %s", rec.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert officers")
	}
	return len(records), nil
}

func (s *SQLiteStore) GetOfficer(ctx context.Context, officerID string) (*model.Officer, error) {
	o, err := scanOfficer(s.db.QueryRowContext(ctx, `SELECT `+officerColumns+` FROM officers o WHERE o.id = ?`, officerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "officer %s", officerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get officer %s", officerID)
	}
	return o, nil
}

func (s *SQLiteStore) ListOfficers(ctx context.Context, companyID string) ([]model.OfficerWithContact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+officerColumns+`, `+contactJoinColumns+`
		 FROM officers o LEFT JOIN officer_contacts oc ON oc.officer_id = o.id
		 WHERE o.company_id = ? ORDER BY o.created_at, o.rowid`,
		companyID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list officers for company %s", companyID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.OfficerWithContact
	for rows.Next() {
		var cs contactScan
		o, err := scanOfficer(rows, cs.dest()...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan officer")
		}
		contact, err := cs.contact()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: decode contact")
		}
		out = append(out, model.OfficerWithContact{Officer: *o, Contact: contact})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list officers iterate")
}

func (s *SQLiteStore) ListRunOfficers(ctx context.Context, runID string) ([]model.Officer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+officerColumns+` FROM officers o JOIN companies c ON c.id = o.company_id
		 WHERE c.run_id = ? ORDER BY c.created_at, c.rowid, o.rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list officers for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Officer
	for rows.Next() {
		o, err := scanOfficer(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan officer")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list run officers iterate")
}

// --- Contacts ---

func (s *SQLiteStore) UpsertOfficerContact(ctx context.Context, c model.OfficerContact) error {
	profile, err := marshalOptional(c.Profile)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contact profile")
	}
	now := time.Now()
	searchedAt := c.SearchedAt
	if searchedAt.IsZero() {
		searchedAt = now
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO officer_contacts (officer_id, email, phone, linkedin_url, found, error, source, profile, searched_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (officer_id) DO UPDATE SET
		   email = excluded.email, phone = excluded.phone, linkedin_url = excluded.linkedin_url,
		   found = excluded.found, error = excluded.error, source = excluded.source,
		   profile = excluded.profile, searched_at = excluded.searched_at, updated_at = excluded.updated_at`,
		c.OfficerID, c.Email, c.Phone, c.LinkedInURL, c.Found, c.Error, c.Source,
		nullableJSON(profile), sqliteTime(searchedAt), sqliteTime(now),
	)
	return eris.Wrapf(err, "sqlite: upsert contact for officer %s", c.OfficerID)
}

func (s *SQLiteStore) GetOfficerContact(ctx context.Context, officerID string) (*model.OfficerContact, error) {
	var cs contactScan
	err := s.db.QueryRowContext(ctx,
		`SELECT `+contactJoinColumns+` FROM officer_contacts oc WHERE oc.officer_id = ?`,
		officerID,
	).Scan(cs.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get contact for officer %s", officerID)
	}
	return cs.contact()
}

// --- SIC lookup ---

func (s *SQLiteStore) UpsertSicCodes(ctx context.Context, codes []model.SicCode) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert sic codes")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sic_codes (code, description) VALUES (?, ?)
		 ON CONFLICT (code) DO UPDATE SET description = excluded.description`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert sic codes")
	}
	defer stmt.Close() //nolint:errcheck

	for _, c := range codes {
		if _, err := stmt.ExecContext(ctx, c.Code, c.Description); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert sic code %s", c.Code)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit sic codes")
	}
	return int64(len(codes)), nil
}

func (s *SQLiteStore) LinkCompanySicCodes(ctx context.Context, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO company_sic_codes (company_id, sic_code)
		 SELECT c.id, j.value
		 FROM companies c, json_each(COALESCE(c.sic_codes, '[]')) j
		 JOIN sic_codes s ON s.code = j.value
		 WHERE c.run_id = ?`,
		runID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: link sic codes for run %s", runID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// nullableJSON stores encoded JSON as TEXT, or NULL when empty.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
