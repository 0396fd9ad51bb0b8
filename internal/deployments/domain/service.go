package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/pendergraft/contradeploy/internal/storage"
)

// Service reads the run history kept in the journal.
type Service interface {
	// Get retrieves a run with its step records.
	Get(ctx context.Context, id string) (*RunDetail, error)

	// List lists runs newest first with filtering and pagination.
	List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error)
}

// Store is the subset of storage the history service uses
type Store interface {
	GetRun(ctx context.Context, id string) (*storage.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Run], error)
	ListSteps(ctx context.Context, runID string) ([]storage.StepRecord, error)
}

// service implements the Service interface.
type service struct {
	store Store
}

// NewService creates a new run history service.
func NewService(store Store) Service {
	return &service{store: store}
}

// Get retrieves a run with its step records.
func (s *service) Get(ctx context.Context, id string) (*RunDetail, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting run: %w", err)
	}

	steps, err := s.store.ListSteps(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}

	detail := &RunDetail{RunSummary: toRunSummary(run)}
	detail.StepRecords = make([]StepRecord, 0, len(steps))
	for _, st := range steps {
		detail.StepRecords = append(detail.StepRecords, toStepRecord(st))
	}
	return detail, nil
}

// List lists runs newest first with filtering and pagination.
func (s *service) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	result, err := s.store.ListRuns(ctx, storage.RunFilter{
		Network: filter.Network,
		Status:  filter.Status,
	}, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	runs := make([]RunSummary, 0, len(result.Data))
	for i := range result.Data {
		runs = append(runs, toRunSummary(&result.Data[i]))
	}

	return &ListResult{
		Runs:       runs,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	}, nil
}

func toRunSummary(r *storage.Run) RunSummary {
	return RunSummary{
		ID:         r.ID,
		Network:    r.Network,
		ChainID:    r.ChainID,
		Deployer:   r.Deployer,
		Status:     r.Status,
		Steps:      r.StepCount,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func toStepRecord(st storage.StepRecord) StepRecord {
	return StepRecord{
		Index:       st.Index,
		StepID:      st.StepID,
		Contract:    st.Contract,
		State:       State(st.State),
		Compiler:    st.Compiler,
		Args:        st.Args,
		TxHash:      st.TxHash,
		Address:     st.Address,
		BlockNumber: st.BlockNumber,
		Error:       st.Error,
		UpdatedAt:   st.UpdatedAt,
	}
}
