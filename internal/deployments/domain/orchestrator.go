package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	"github.com/pendergraft/contradeploy/internal/storage"
)

// DefaultConfirmationTimeout bounds the wait for a single receipt
const DefaultConfirmationTimeout = 10 * time.Minute

// Chain is the blockchain side of a run
type Chain interface {
	ChainID() int64
	From() string
	Deploy(ctx context.Context, artifact *chains.Artifact, args []string) (string, error)
	AwaitConfirmation(ctx context.Context, txHash string) (*chains.Receipt, error)
}

// Journal records run progress. It is written to on a best-effort basis;
// journal failures are logged and never fail a deployment.
type Journal interface {
	CreateRun(ctx context.Context, run *storage.Run) error
	FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error
	RecordStep(ctx context.Context, step *storage.StepRecord) error
}

// Orchestrator executes plans step by step against one network
type Orchestrator struct {
	builder        chains.Builder
	chain          Chain
	journal        Journal
	logger         *slog.Logger
	confirmTimeout time.Duration
	now            func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithJournal records runs and steps in j
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithConfirmationTimeout bounds how long a submitted transaction may take to confirm
func WithConfirmationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.confirmTimeout = d
		}
	}
}

// NewOrchestrator creates an orchestrator bound to one builder and one chain
func NewOrchestrator(builder chains.Builder, chain Chain, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		builder:        builder,
		chain:          chain,
		logger:         slog.Default(),
		confirmTimeout: DefaultConfirmationTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the plan in order. Step N+1 starts only after step N is
// confirmed on chain, so references always resolve to mined addresses.
//
// The first failing step halts the run. The returned report carries every
// step confirmed so far and the error is a *StepError wrapping one of the
// failure classes. Cancelling ctx stops the run before the next step; a
// transaction already broadcast is still awaited so that its hash and
// outcome are not lost.
func (o *Orchestrator) Run(ctx context.Context, plan *Plan) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		Network:   plan.Network,
		ChainID:   o.chain.ChainID(),
		Deployer:  o.chain.From(),
		StartedAt: o.now(),
	}
	logger := o.logger.With("run_id", report.RunID, "network", plan.Network, "chain_id", report.ChainID)
	logger.Info("starting deployment run", "steps", len(plan.Steps), "deployer", report.Deployer)

	o.journalCreate(ctx, logger, report)

	addresses := make(map[string]string, len(plan.Steps))
	for i, ps := range plan.Steps {
		if ctx.Err() != nil {
			report.Aborted = true
			report.Failure = &StepError{
				Index:    i,
				StepID:   ps.ID,
				Contract: ps.Contract,
				State:    StatePending,
				Err:      fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx)),
			}
			logger.Warn("run aborted", "next_step", ps.ID, "confirmed", len(report.Results))
			return o.finish(ctx, logger, report)
		}

		result, stepErr := o.runStep(ctx, logger, report, i, ps, addresses)
		if stepErr != nil {
			report.Failure = stepErr
			return o.finish(ctx, logger, report)
		}
		report.Results = append(report.Results, *result)
		addresses[ps.ID] = result.Address
	}

	return o.finish(ctx, logger, report)
}

func (o *Orchestrator) runStep(ctx context.Context, logger *slog.Logger, report *Report, index int, ps PlannedStep, addresses map[string]string) (*Result, *StepError) {
	start := o.now()
	logger = logger.With("step", index+1, "step_id", ps.ID, "contract", ps.Contract)

	record := &storage.StepRecord{
		RunID:    report.RunID,
		Index:    index,
		StepID:   ps.ID,
		Contract: ps.Contract,
		State:    string(StatePending),
		Compiler: ps.Compiler.String(),
	}
	o.journalStep(ctx, logger, record)

	fail := func(state State, txHash string, err error) *StepError {
		stepErr := &StepError{
			Index:    index,
			StepID:   ps.ID,
			Contract: ps.Contract,
			State:    state,
			TxHash:   txHash,
			Err:      err,
		}
		record.State = string(StateFailed)
		record.Error = err.Error()
		o.journalStep(ctx, logger, record)
		metrics.DeployStep(report.Network, ps.Contract, string(StateFailed), o.now().Sub(start))
		logger.Error("step failed", "state", state, "tx_hash", txHash, "error", err)
		return stepErr
	}

	logger.Info("building", "unit", ps.Unit.String(), "compiler", ps.Compiler.String())
	artifact, err := o.builder.Build(ctx, ps.Unit, ps.Compiler.Version, ps.Compiler.Optimizer)
	if err != nil {
		return nil, fail(StatePending, "", fmt.Errorf("%w: %w", ErrBuild, err))
	}
	record.State = string(StateBuilt)
	o.journalStep(ctx, logger, record)

	args, err := bindArgs(ps.Args, addresses)
	if err != nil {
		return nil, fail(StateBuilt, "", err)
	}
	record.Args = args

	txHash, err := o.chain.Deploy(ctx, artifact, args)
	if err != nil {
		return nil, fail(StateBuilt, txHash, fmt.Errorf("%w: %w", ErrSubmission, err))
	}
	// The hash is the only handle on a broadcast transaction; record it
	// before waiting.
	logger.Info("transaction submitted", "tx_hash", txHash)
	record.State = string(StateSubmitted)
	record.TxHash = txHash
	o.journalStep(ctx, logger, record)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.confirmTimeout)
	defer cancel()
	receipt, err := o.chain.AwaitConfirmation(waitCtx, txHash)
	if err != nil {
		return nil, fail(StateSubmitted, txHash, fmt.Errorf("%w: %w", ErrConfirmation, err))
	}

	record.State = string(StateConfirmed)
	record.Address = receipt.ContractAddress
	record.BlockNumber = receipt.BlockNumber
	o.journalStep(ctx, logger, record)
	metrics.DeployStep(report.Network, ps.Contract, string(StateConfirmed), o.now().Sub(start))

	logger.Info("contract deployed",
		"address", receipt.ContractAddress,
		"tx_hash", txHash,
		"block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed,
		"duration", o.now().Sub(start),
	)

	return &Result{
		StepID:      ps.ID,
		Contract:    ps.Contract,
		Unit:        ps.Unit,
		Compiler:    ps.Compiler,
		Args:        args,
		Address:     receipt.ContractAddress,
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		Artifact:    artifact,
	}, nil
}

// bindArgs replaces references with the addresses of confirmed steps
func bindArgs(args []Arg, addresses map[string]string) ([]string, error) {
	bound := make([]string, len(args))
	for i, a := range args {
		if !a.IsRef() {
			bound[i] = a.Literal
			continue
		}
		addr, ok := addresses[a.Ref]
		if !ok || addr == "" {
			return nil, fmt.Errorf("%w: argument %d refers to step %q which has no confirmed address", ErrUnresolvedReference, i+1, a.Ref)
		}
		bound[i] = addr
	}
	return bound, nil
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, report *Report) (*Report, error) {
	report.FinishedAt = o.now()
	status := report.Status()
	metrics.DeployRun(report.Network, status)

	var errMsg string
	if report.Failure != nil {
		errMsg = report.Failure.Error()
	}
	if o.journal != nil {
		if err := o.journal.FinishRun(context.WithoutCancel(ctx), report.RunID, status, errMsg, report.FinishedAt); err != nil {
			logger.Warn("journal: finishing run failed", "error", err)
		}
	}

	duration := report.FinishedAt.Sub(report.StartedAt)
	if report.Failure != nil {
		logger.Error("deployment run halted",
			"status", status,
			"confirmed", len(report.Results),
			"duration", duration,
			"error", report.Failure,
		)
		return report, report.Failure
	}
	logger.Info("deployment run complete", "confirmed", len(report.Results), "duration", duration)
	return report, nil
}

func (o *Orchestrator) journalCreate(ctx context.Context, logger *slog.Logger, report *Report) {
	if o.journal == nil {
		return
	}
	run := &storage.Run{
		ID:        report.RunID,
		Network:   report.Network,
		ChainID:   report.ChainID,
		Deployer:  report.Deployer,
		Status:    storage.RunRunning,
		StartedAt: report.StartedAt,
	}
	if err := o.journal.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("journal: creating run failed", "error", err)
	}
}

func (o *Orchestrator) journalStep(ctx context.Context, logger *slog.Logger, record *storage.StepRecord) {
	if o.journal == nil {
		return
	}
	record.UpdatedAt = o.now()
	if err := o.journal.RecordStep(context.WithoutCancel(ctx), record); err != nil {
		logger.Warn("journal: recording step failed", "state", record.State, "error", err)
	}
}

// Job is one network's share of a multi-network deployment
type Job struct {
	Orchestrator *Orchestrator
	Plan         *Plan
}

// Outcome is the result of one Job
type Outcome struct {
	Network string
	Report  *Report
	Err     error
}

// RunAll executes independent plans concurrently, one per network, with at
// most limit runs in flight (limit <= 0 runs them all at once). Runs do not
// affect each other: a failure on one network leaves the rest running.
// Outcomes are returned in job order.
func RunAll(ctx context.Context, jobs []Job, limit int) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			report, err := job.Orchestrator.Run(ctx, job.Plan)
			outcomes[i] = Outcome{Network: job.Plan.Network, Report: report, Err: err}
			return nil
		})
	}
	g.Wait() // failures are carried per outcome
	return outcomes
}

// FailedOutcomes returns the outcomes that ended in an error
func FailedOutcomes(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, oc := range outcomes {
		if oc.Err != nil {
			failed = append(failed, oc)
		}
	}
	return failed
}

// ErrorOf flattens the errors of a multi-network run
func ErrorOf(outcomes []Outcome) error {
	var errs []error
	for _, oc := range FailedOutcomes(outcomes) {
		errs = append(errs, fmt.Errorf("%s: %w", oc.Network, oc.Err))
	}
	return errors.Join(errs...)
}
