package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func applyPragmas(db *sql.DB) error {
	// Concurrent multi-network runs share one file
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Runs
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		deployer TEXT,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	-- Steps
	CREATE TABLE IF NOT EXISTS run_steps (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		step_index INTEGER NOT NULL,
		step_id TEXT NOT NULL,
		contract TEXT NOT NULL,
		state TEXT NOT NULL,
		compiler TEXT,
		args TEXT,
		tx_hash TEXT,
		address TEXT,
		block_number INTEGER,
		error TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (run_id, step_index)
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at, id);
	CREATE INDEX IF NOT EXISTS idx_runs_network ON runs(network);
	CREATE INDEX IF NOT EXISTS idx_run_steps_tx ON run_steps(tx_hash);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Debug("journal migrations complete", "backend", "sqlite")
	return nil
}

// CreateRun inserts a new run, assigning an ID when none is set
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = generateID()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	query := `
		INSERT INTO runs (id, network, chain_id, deployer, status, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Network, run.ChainID, run.Deployer, run.Status, run.Error, formatTime(run.StartedAt))
	return err
}

// FinishRun records the terminal status of a run
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?",
		status, errMsg, formatTime(finishedAt), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const sqliteRunColumns = `
	r.id, r.network, r.chain_id, COALESCE(r.deployer, ''), r.status, COALESCE(r.error, ''),
	r.started_at, COALESCE(r.finished_at, ''),
	(SELECT COUNT(*) FROM run_steps st WHERE st.run_id = r.id)
`

func scanSQLiteRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var startedAt, finishedAt string
	if err := row.Scan(&run.ID, &run.Network, &run.ChainID, &run.Deployer, &run.Status, &run.Error, &startedAt, &finishedAt, &run.StepCount); err != nil {
		return nil, err
	}
	t, err := parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	run.StartedAt = t
	if finishedAt != "" {
		f, err := parseTime(finishedAt)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &f
	}
	return &run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs r WHERE r.id = ?`
	run, err := scanSQLiteRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns lists runs newest first with cursor-based pagination.
// The cursor is the ID of the last run on the previous page.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error) {
	limit := normalizeLimit(pagination.Limit)

	var whereClauses []string
	var args []any
	if pagination.Cursor != "" {
		whereClauses = append(whereClauses, `(r.started_at, r.id) < (SELECT started_at, id FROM runs WHERE id = ?)`)
		args = append(args, pagination.Cursor)
	}
	if filter.Network != "" {
		whereClauses = append(whereClauses, "r.network = ?")
		args = append(args, filter.Network)
	}
	if filter.Status != "" {
		whereClauses = append(whereClauses, "r.status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + sqliteRunColumns + ` FROM runs r`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY r.started_at DESC, r.id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(runs) > limit
	var nextCursor string
	if hasMore {
		runs = runs[:limit]
		nextCursor = runs[len(runs)-1].ID
	}

	return &PaginatedResult[Run]{Data: runs, HasMore: hasMore, NextCursor: nextCursor}, nil
}

// RecordStep upserts the journal entry for one step
func (s *SQLiteStore) RecordStep(ctx context.Context, step *StepRecord) error {
	args, err := encodeArgs(step.Args)
	if err != nil {
		return err
	}
	if step.UpdatedAt.IsZero() {
		step.UpdatedAt = time.Now()
	}
	query := `
		INSERT INTO run_steps (run_id, step_index, step_id, contract, state, compiler, args, tx_hash, address, block_number, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_index) DO UPDATE SET
			state = excluded.state,
			compiler = excluded.compiler,
			args = excluded.args,
			tx_hash = excluded.tx_hash,
			address = excluded.address,
			block_number = excluded.block_number,
			error = excluded.error,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		step.RunID, step.Index, step.StepID, step.Contract, step.State, step.Compiler, args,
		step.TxHash, step.Address, int64(step.BlockNumber), step.Error, formatTime(step.UpdatedAt))
	return err
}

// ListSteps returns the journal entries of a run in plan order
func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	query := `
		SELECT run_id, step_index, step_id, contract, state, COALESCE(compiler, ''), COALESCE(args, '[]'),
			COALESCE(tx_hash, ''), COALESCE(address, ''), COALESCE(block_number, 0), COALESCE(error, ''), updated_at
		FROM run_steps
		WHERE run_id = ?
		ORDER BY step_index
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var st StepRecord
		var args, updatedAt string
		var block int64
		if err := rows.Scan(&st.RunID, &st.Index, &st.StepID, &st.Contract, &st.State, &st.Compiler, &args,
			&st.TxHash, &st.Address, &block, &st.Error, &updatedAt); err != nil {
			return nil, err
		}
		if st.Args, err = decodeArgs(args); err != nil {
			return nil, err
		}
		if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		st.BlockNumber = uint64(block)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}
