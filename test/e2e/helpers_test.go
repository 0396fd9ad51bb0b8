//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/contradeploy/internal/config"
	"github.com/pendergraft/contradeploy/internal/server"
	"github.com/pendergraft/contradeploy/internal/storage"
	"github.com/pendergraft/contradeploy/pkg/client"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	TestServer        *httptest.Server
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("contradeploy"),
		postgres.WithUsername("contradeploy"),
		postgres.WithPassword("contradeploy"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// startServerE opens and migrates the Postgres journal and serves it
func startServerE(connString string) (*httptest.Server, storage.Store, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewPostgresStore(connString, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	cfg := &config.Config{Metrics: config.MetricsConfig{Enabled: false}}
	srv := server.New(cfg, store, logger)
	return httptest.NewServer(srv.Handler()), store, nil
}

func newClient() *client.Client {
	return client.New(testCtx.TestServer.URL)
}

// recordRun writes a finished run with one record per contract
func recordRun(t *testing.T, network string, status string, contracts ...string) string {
	t.Helper()
	ctx := context.Background()

	run := &storage.Run{
		Network:   network,
		ChainID:   8453,
		Deployer:  "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, testCtx.Store.CreateRun(ctx, run))

	for i, contract := range contracts {
		require.NoError(t, testCtx.Store.RecordStep(ctx, &storage.StepRecord{
			RunID:    run.ID,
			Index:    i,
			StepID:   contract,
			Contract: contract,
			State:    "pending",
			Compiler: "0.5.16",
		}))
	}

	var errMsg string
	if status != storage.RunSucceeded {
		errMsg = "deployment stopped"
	}
	require.NoError(t, testCtx.Store.FinishRun(ctx, run.ID, status, errMsg, time.Now().UTC()))
	return run.ID
}
