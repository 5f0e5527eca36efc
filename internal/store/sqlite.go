package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// DefaultSQLitePath is used when no path is configured.
const DefaultSQLitePath = "lead-pipeline.db"

// Fixed-width UTC layout so timestamps compare correctly as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS executions (
	id               TEXT PRIMARY KEY,
	lead_name        TEXT NOT NULL,
	final_status     TEXT NOT NULL,
	success          INTEGER NOT NULL,
	total_latency_ms INTEGER NOT NULL,
	total_cost_usd   REAL NOT NULL,
	created_at       TEXT NOT NULL,
	result           TEXT NOT NULL,
	UNIQUE (lead_name, created_at, id)
);

CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(final_status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqlitePlaceholder(int) string { return "?" }

func sqliteTimeArg(t time.Time) any { return t.UTC().Format(sqliteTime) }

func (s *SQLiteStore) Append(ctx context.Context, result *model.PipelineResult) error {
	e, err := newExecution(result)
	if err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, lead_name, final_status, success, total_latency_ms, total_cost_usd, created_at, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.LeadName, string(e.FinalStatus), e.Success, e.TotalLatencyMs, e.TotalCostUSD,
		sqliteTimeArg(e.CreatedAt), string(resultJSON),
	)
	return eris.Wrapf(err, "sqlite: append execution %s", e.ID)
}

const sqliteSelect = `SELECT id, lead_name, final_status, success, total_latency_ms, total_cost_usd, created_at, result FROM executions`

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id)
	e, err := scanSQLiteExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get execution %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, f Filter) ([]Execution, error) {
	where, args := whereClause(f, sqlitePlaceholder, sqliteTimeArg)
	page, args := pageClause(f, sqlitePlaceholder, args)
	query := sqliteSelect + where + ` ORDER BY created_at DESC, id` + page

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list executions")
	}
	defer rows.Close() //nolint:errcheck

	var out []Execution
	for rows.Next() {
		e, err := scanSQLiteExecution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan execution")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list executions iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context, f Filter) (*Stats, error) {
	where, args := whereClause(f, sqlitePlaceholder, sqliteTimeArg)
	rows, err := s.db.QueryContext(ctx,
		`SELECT final_status, COUNT(*), COALESCE(SUM(total_latency_ms), 0), COALESCE(SUM(total_cost_usd), 0)
		 FROM executions`+where+` GROUP BY final_status`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	defer rows.Close() //nolint:errcheck

	var aggs []statusAgg
	for rows.Next() {
		var a statusAgg
		if err := rows.Scan(&a.status, &a.count, &a.latencyMs, &a.costUSD); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats iterate")
	}
	return buildStats(aggs), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteExecution(row scannable) (*Execution, error) {
	var e Execution
	var status, createdAt, resultJSON string

	err := row.Scan(&e.ID, &e.LeadName, &status, &e.Success, &e.TotalLatencyMs, &e.TotalCostUSD, &createdAt, &resultJSON)
	if err != nil {
		return nil, err
	}
	e.FinalStatus = model.FinalStatus(status)

	e.CreatedAt, err = time.Parse(sqliteTime, createdAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	e.Result = &model.PipelineResult{}
	if err := json.Unmarshal([]byte(resultJSON), e.Result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal result")
	}
	return &e, nil
}
