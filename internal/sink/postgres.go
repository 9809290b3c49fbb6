package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS replay_outcomes (
    id              TEXT PRIMARY KEY,
    run_id          TEXT        NOT NULL,
    idx             INT         NOT NULL,
    method          TEXT        NOT NULL,
    url             TEXT        NOT NULL,
    kind            TEXT        NOT NULL,
    status_code     INT,
    error           TEXT,
    latency_ms      BIGINT,
    lag_ms          BIGINT,
    recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    doc             JSONB       NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_replay_outcomes_run ON replay_outcomes (run_id, idx);
`

const insertOutcome = `
	INSERT INTO replay_outcomes (id, run_id, idx, method, url, kind, status_code, error, latency_ms, lag_ms, recorded_at, doc)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO NOTHING`

// pgxConn is the part of *pgxpool.Pool the sink uses.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresSink stores records in a replay_outcomes table.
type PostgresSink struct {
	db    pgxConn
	close func()
}

// NewPostgresSink connects to dsn and runs the migration.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := newPostgresSink(pool, pool.Close)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func newPostgresSink(db pgxConn, closeFn func()) *PostgresSink {
	return &PostgresSink{db: db, close: closeFn}
}

func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresMigration); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, records []Record) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insertOutcome, outcomeRow(r)...)
	}

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting outcomes: %w", err)
	}

	return nil
}

// outcomeRow maps a record onto the insertOutcome parameters. status_code
// is only set for delivered requests and error only for failed ones.
func outcomeRow(r Record) []any {
	var status, errKind any
	switch {
	case r.Outcome.IsSucceeded():
		status = r.Outcome.StatusCode
	case r.Outcome.IsFailed():
		errKind = string(r.Outcome.Error)
	}

	return []any{
		r.ID, r.RunID, r.Index, r.Method, r.URL, r.Outcome.Kind.String(), status,
		errKind, r.LatencyMs, r.LagMs, r.RecordedAt, string(r.Doc),
	}
}

func (s *PostgresSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
