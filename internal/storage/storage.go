package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pendergraft/contradeploy/internal/config"
)

// Run statuses
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunAborted   = "aborted"
)

// RunStore handles deployment run records
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error)
}

// StepStore handles the per-step journal of a run
type StepStore interface {
	RecordStep(ctx context.Context, step *StepRecord) error
	ListSteps(ctx context.Context, runID string) ([]StepRecord, error)
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	RunStore
	StepStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Run is one execution of a deployment plan against one network
type Run struct {
	ID         string
	Network    string
	ChainID    int64
	Deployer   string
	Status     string
	StepCount  int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// StepRecord is the latest known state of one plan step.
// Records are upserted on (RunID, Index) as the step advances.
type StepRecord struct {
	RunID       string
	Index       int
	StepID      string
	Contract    string
	State       string
	Compiler    string
	Args        []string
	TxHash      string
	Address     string
	BlockNumber uint64
	Error       string
	UpdatedAt   time.Time
}

// RunFilter contains filter options for listing runs
type RunFilter struct {
	Network string
	Status  string
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
	PrevCursor string
}

// New creates a new store based on configuration
func New(cfg config.JournalConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, logger)
	case "postgres":
		return NewPostgresStore(cfg.PostgresURL, logger)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown journal type: %s", cfg.Type)
	}
}
