//go:build e2e

package e2e

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contradeploy/internal/storage"
	"github.com/pendergraft/contradeploy/pkg/client"
)

func TestHealth(t *testing.T) {
	require.NoError(t, newClient().Health(context.Background()))
}

func TestRuns_ListAndFilter(t *testing.T) {
	ctx := context.Background()
	network := "e2e-" + uuid.NewString()[:8]

	okID := recordRun(t, network, storage.RunSucceeded, "KmbioFactory", "KmbioRouter")
	failedID := recordRun(t, network, storage.RunFailed, "KmbioFactory")

	resp, err := newClient().ListRuns(ctx, client.ListRunsOptions{Network: network})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, failedID, resp.Data[0].ID, "newest first")
	assert.Equal(t, okID, resp.Data[1].ID)
	assert.Equal(t, 2, resp.Data[1].StepCount)

	resp, err = newClient().ListRuns(ctx, client.ListRunsOptions{Network: network, Status: storage.RunFailed})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "deployment stopped", resp.Data[0].Error)
}

func TestRuns_Pagination(t *testing.T) {
	ctx := context.Background()
	network := "e2e-" + uuid.NewString()[:8]

	for range 3 {
		recordRun(t, network, storage.RunSucceeded, "KmbioFactory")
	}

	c := newClient()
	first, err := c.ListRuns(ctx, client.ListRunsOptions{Network: network, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Data, 2)
	require.True(t, first.Pagination.HasMore)

	second, err := c.ListRuns(ctx, client.ListRunsOptions{Network: network, Limit: 2, Cursor: first.Pagination.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Data, 1)
	assert.False(t, second.Pagination.HasMore)
	assert.NotEqual(t, first.Data[1].ID, second.Data[0].ID)
}

func TestRuns_StepUpsert(t *testing.T) {
	ctx := context.Background()
	id := recordRun(t, "e2e-upsert", storage.RunSucceeded, "KmbioFactory")

	require.NoError(t, testCtx.Store.RecordStep(ctx, &storage.StepRecord{
		RunID:       id,
		Index:       0,
		StepID:      "KmbioFactory",
		Contract:    "KmbioFactory",
		State:       "confirmed",
		Compiler:    "0.5.16",
		Args:        []string{"0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061"},
		TxHash:      "0xabcd",
		Address:     "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		BlockNumber: 1234,
		UpdatedAt:   time.Now().UTC(),
	}))

	run, err := newClient().GetRun(ctx, id)
	require.NoError(t, err)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, "confirmed", run.Steps[0].State)
	assert.Equal(t, uint64(1234), run.Steps[0].BlockNumber)
	assert.Equal(t, []string{"0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061"}, run.Steps[0].Args)
}

func TestRuns_NotFound(t *testing.T) {
	_, err := newClient().GetRun(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.True(t, errors.Is(err, client.ErrNotFound))
}
