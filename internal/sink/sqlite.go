package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS outcomes(
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	method TEXT,
	url TEXT,
	kind TEXT NOT NULL,
	status_code INTEGER,
	error TEXT,
	reason TEXT,
	latency_ms INTEGER,
	lag_ms INTEGER,
	recorded_at REAL,
	doc TEXT
)`

// SQLiteSink appends records to a local database file.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create outcomes table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id, idx)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create outcomes index: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Write(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO outcomes(
		id, run_id, idx, method, url, kind, status_code, error, reason, latency_ms, lag_ms, recorded_at, doc)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		o := r.Outcome
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.RunID, r.Index, r.Method, r.URL, o.Kind.String(), o.StatusCode,
			string(o.Error), string(o.Reason), r.LatencyMs, r.LagMs,
			float64(r.RecordedAt.UnixNano())/1e9, string(r.Doc),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert record %d: %w", r.Index, err)
		}
	}

	return tx.Commit()
}

// Count returns how many records are stored for runID.
func (s *SQLiteSink) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
