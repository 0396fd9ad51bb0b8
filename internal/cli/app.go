package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/chains/evm/foundry"
	"github.com/pendergraft/contradeploy/internal/config"
	"github.com/pendergraft/contradeploy/internal/deployments/domain"
	"github.com/pendergraft/contradeploy/internal/networks"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	"github.com/pendergraft/contradeploy/internal/storage"
	"github.com/pendergraft/contradeploy/internal/toolchain"
)

// app is everything a command needs, loaded once per invocation. Loading
// touches only local files and the environment.
type app struct {
	cfg         *config.Config
	project     *config.ProjectConfig
	projectPath string
	networks    *networks.Registry
	toolchain   *toolchain.Registry
	logger      *slog.Logger
}

func loadApp() (*app, error) {
	cfg, err := config.Load(config.LoadOptions{EnvFile: envFile})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := setupLogger(cfg, os.Stderr)

	project, projectPath, err := config.LoadProject(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("%w: loading project %s: %w", domain.ErrConfiguration, projectPath, err)
	}

	registry, err := networks.NewRegistry(cfg.Env, networks.DefinitionsFromProject(project)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	tc, err := project.NewToolchain()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	metrics.Init(cfg.Metrics.Enabled, "contradeploy")

	return &app{
		cfg:         cfg,
		project:     project,
		projectPath: projectPath,
		networks:    registry,
		toolchain:   tc,
		logger:      logger,
	}, nil
}

// builder returns the Foundry builder for the project, with build logging
func (a *app) builder() chains.Builder {
	b := foundry.New(foundry.Config{
		Root:  a.project.Build.Root,
		Out:   a.project.Build.Out,
		Forge: a.project.Build.Forge,
	}, foundry.WithLogger(a.logger))
	return domain.LoggingBuilder(a.logger)(b)
}

// openJournal opens and migrates the configured journal. A disabled
// journal yields a nil store and no error.
func (a *app) openJournal(ctx context.Context) (storage.Store, error) {
	store, err := storage.New(a.cfg.Journal, a.logger)
	if errors.Is(err, storage.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}
	return store, nil
}

func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
