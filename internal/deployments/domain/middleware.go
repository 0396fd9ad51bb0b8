package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/pendergraft/contradeploy/internal/chains"
)

// LoggingMiddleware returns a service middleware that logs history reads.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (m *loggingMiddleware) Get(ctx context.Context, id string) (*RunDetail, error) {
	start := time.Now()
	detail, err := m.next.Get(ctx, id)
	m.logger.Debug("Get",
		"id", id,
		"duration", time.Since(start),
		"error", err,
	)
	return detail, err
}

func (m *loggingMiddleware) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	start := time.Now()
	result, err := m.next.List(ctx, filter, pagination)
	count := 0
	if result != nil {
		count = len(result.Runs)
	}
	m.logger.Debug("List",
		"network", filter.Network,
		"status", filter.Status,
		"limit", pagination.Limit,
		"count", count,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

// LoggingBuilder wraps a builder so every compilation is logged with its
// pinned compiler and duration.
func LoggingBuilder(logger *slog.Logger) func(chains.Builder) chains.Builder {
	return func(next chains.Builder) chains.Builder {
		return &loggingBuilder{
			next:   next,
			logger: logger,
		}
	}
}

type loggingBuilder struct {
	next   chains.Builder
	logger *slog.Logger
}

func (b *loggingBuilder) Name() string {
	return b.next.Name()
}

func (b *loggingBuilder) Build(ctx context.Context, unit chains.SourceUnit, version string, optimizer chains.OptimizerConfig) (*chains.Artifact, error) {
	start := time.Now()
	artifact, err := b.next.Build(ctx, unit, version, optimizer)
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	b.logger.Log(ctx, level, "Build",
		"builder", b.next.Name(),
		"unit", unit.String(),
		"version", version,
		"optimizer", optimizer.Enabled,
		"runs", optimizer.Runs,
		"duration", time.Since(start),
		"error", err,
	)
	return artifact, err
}
