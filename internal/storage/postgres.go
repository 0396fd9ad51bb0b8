package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Runs
	CREATE TABLE IF NOT EXISTS runs (
		id UUID PRIMARY KEY,
		network TEXT NOT NULL,
		chain_id BIGINT NOT NULL,
		deployer TEXT,
		status TEXT NOT NULL,
		error TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	-- Steps
	CREATE TABLE IF NOT EXISTS run_steps (
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		step_index INTEGER NOT NULL,
		step_id TEXT NOT NULL,
		contract TEXT NOT NULL,
		state TEXT NOT NULL,
		compiler TEXT,
		args JSONB,
		tx_hash TEXT,
		address TEXT,
		block_number BIGINT,
		error TEXT,
		updated_at TIMESTAMPTZ NOT NULL,
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

	s.logger.Debug("journal migrations complete", "backend", "postgres")
	return nil
}

// CreateRun inserts a new run, assigning an ID when none is set
func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Network, run.ChainID, run.Deployer, run.Status, run.Error, run.StartedAt.UTC())
	return err
}

// FinishRun records the terminal status of a run
func (s *PostgresStore) FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE id = $4",
		status, errMsg, finishedAt.UTC(), id)
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

const postgresRunColumns = `
	r.id::text, r.network, r.chain_id, COALESCE(r.deployer, ''), r.status, COALESCE(r.error, ''),
	r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM run_steps st WHERE st.run_id = r.id)
`

func scanPostgresRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var finishedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.Network, &run.ChainID, &run.Deployer, &run.Status, &run.Error, &run.StartedAt, &finishedAt, &run.StepCount); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		f := finishedAt.Time
		run.FinishedAt = &f
	}
	return &run, nil
}

// GetRun retrieves a run by ID
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs r WHERE r.id::text = $1`
	run, err := scanPostgresRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns lists runs newest first with cursor-based pagination
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error) {
	limit := normalizeLimit(pagination.Limit)

	var whereClauses []string
	var args []any
	argIdx := 1

	if pagination.Cursor != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("(r.started_at, r.id) < (SELECT started_at, id FROM runs WHERE id::text = $%d)", argIdx))
		args = append(args, pagination.Cursor)
		argIdx++
	}
	if filter.Network != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("r.network = $%d", argIdx))
		args = append(args, filter.Network)
		argIdx++
	}
	if filter.Status != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("r.status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	query := `SELECT ` + postgresRunColumns + ` FROM runs r`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY r.started_at DESC, r.id DESC LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanPostgresRun(rows)
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
func (s *PostgresStore) RecordStep(ctx context.Context, step *StepRecord) error {
	args, err := encodeArgs(step.Args)
	if err != nil {
		return err
	}
	if step.UpdatedAt.IsZero() {
		step.UpdatedAt = time.Now()
	}
	query := `
		INSERT INTO run_steps (run_id, step_index, step_id, contract, state, compiler, args, tx_hash, address, block_number, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, step_index) DO UPDATE SET
			state = EXCLUDED.state,
			compiler = EXCLUDED.compiler,
			args = EXCLUDED.args,
			tx_hash = EXCLUDED.tx_hash,
			address = EXCLUDED.address,
			block_number = EXCLUDED.block_number,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		step.RunID, step.Index, step.StepID, step.Contract, step.State, step.Compiler, args,
		step.TxHash, step.Address, int64(step.BlockNumber), step.Error, step.UpdatedAt.UTC())
	return err
}

// ListSteps returns the journal entries of a run in plan order
func (s *PostgresStore) ListSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	query := `
		SELECT run_id::text, step_index, step_id, contract, state, COALESCE(compiler, ''), COALESCE(args::text, '[]'),
			COALESCE(tx_hash, ''), COALESCE(address, ''), COALESCE(block_number, 0), COALESCE(error, ''), updated_at
		FROM run_steps
		WHERE run_id::text = $1
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
		var args string
		var block int64
		if err := rows.Scan(&st.RunID, &st.Index, &st.StepID, &st.Contract, &st.State, &st.Compiler, &args,
			&st.TxHash, &st.Address, &block, &st.Error, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if st.Args, err = decodeArgs(args); err != nil {
			return nil, err
		}
		st.BlockNumber = uint64(block)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}
