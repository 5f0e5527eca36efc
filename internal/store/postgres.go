package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
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
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS executions (
	id               TEXT PRIMARY KEY,
	lead_name        TEXT NOT NULL,
	final_status     TEXT NOT NULL,
	success          BOOLEAN NOT NULL,
	total_latency_ms BIGINT NOT NULL,
	total_cost_usd   DOUBLE PRECISION NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	result           JSONB NOT NULL,
	UNIQUE (lead_name, created_at, id)
);

CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(final_status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func pgTimeArg(t time.Time) any { return t }

func (s *PostgresStore) Append(ctx context.Context, result *model.PipelineResult) error {
	e, err := newExecution(result)
	if err != nil {
		return err
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO executions (id, lead_name, final_status, success, total_latency_ms, total_cost_usd, created_at, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.LeadName, string(e.FinalStatus), e.Success, e.TotalLatencyMs, e.TotalCostUSD, e.CreatedAt, resultJSON,
	)
	return eris.Wrapf(err, "postgres: append execution %s", e.ID)
}

const pgSelect = `SELECT id, lead_name, final_status, success, total_latency_ms, total_cost_usd, created_at, result FROM executions`

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	e, err := scanPgExecution(s.pool.QueryRow(ctx, pgSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get execution %s", id)
	}
	return e, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, f Filter) ([]Execution, error) {
	where, args := whereClause(f, pgPlaceholder, pgTimeArg)
	page, args := pageClause(f, pgPlaceholder, args)

	rows, err := s.pool.Query(ctx, pgSelect+where+` ORDER BY created_at DESC, id`+page, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list executions")
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		e, err := scanPgExecution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan execution")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list executions iterate")
}

func (s *PostgresStore) Stats(ctx context.Context, f Filter) (*Stats, error) {
	where, args := whereClause(f, pgPlaceholder, pgTimeArg)
	rows, err := s.pool.Query(ctx,
		`SELECT final_status, COUNT(*), COALESCE(SUM(total_latency_ms), 0)::BIGINT, COALESCE(SUM(total_cost_usd), 0)::DOUBLE PRECISION
		 FROM executions`+where+` GROUP BY final_status`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	defer rows.Close()

	var aggs []statusAgg
	for rows.Next() {
		var a statusAgg
		var count int64
		if err := rows.Scan(&a.status, &count, &a.latencyMs, &a.costUSD); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		a.count = int(count)
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats iterate")
	}
	return buildStats(aggs), nil
}

func scanPgExecution(row pgx.Row) (*Execution, error) {
	var e Execution
	var status string
	var resultJSON []byte

	if err := row.Scan(&e.ID, &e.LeadName, &status, &e.Success, &e.TotalLatencyMs, &e.TotalCostUSD, &e.CreatedAt, &resultJSON); err != nil {
		return nil, err
	}
	e.FinalStatus = model.FinalStatus(status)
	e.Result = &model.PipelineResult{}
	if err := json.Unmarshal(resultJSON, e.Result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	return &e, nil
}
