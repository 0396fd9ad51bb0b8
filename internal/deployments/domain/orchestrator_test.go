package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contradeploy/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func kmbioPlan(t *testing.T, network string) *Plan {
	t.Helper()
	plan, err := NewPlan(network, kmbioSteps(), kmbioCatalog(), kmbioResolver())
	require.NoError(t, err)
	return plan
}

func TestRun_DeploysInOrderAndBindsReferences(t *testing.T) {
	builder := &fakeBuilder{}
	chain := newFakeChain(8453)
	journal := newMemJournal()
	o := NewOrchestrator(builder, chain, WithJournal(journal), WithLogger(discardLogger()))

	report, err := o.Run(context.Background(), kmbioPlan(t, "goerli"))
	require.NoError(t, err)

	assert.True(t, report.Succeeded())
	assert.Equal(t, storage.RunSucceeded, report.Status())
	assert.Equal(t, int64(8453), report.ChainID)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Results, 3)

	assert.Equal(t, []string{"KmbioFactory@0.5.16", "KmbioRouter@0.6.6", "MasterChef@0.8.14"}, builder.built)
	assert.Equal(t, []string{
		"deploy:KmbioFactory", "confirm:KmbioFactory",
		"deploy:KmbioRouter", "confirm:KmbioRouter",
		"deploy:MasterChef", "confirm:MasterChef",
	}, chain.events)

	// router receives the confirmed factory address
	factory, ok := report.Address("factory")
	require.True(t, ok)
	assert.Equal(t, addressFor("KmbioFactory"), factory)
	assert.Equal(t, []string{factory, weth}, chain.deploys[1].args)
	assert.Equal(t, []string{factory, weth}, report.Results[1].Args)

	for _, res := range report.Results {
		assert.NotEmpty(t, res.TxHash)
		assert.NotNil(t, res.Artifact)
	}

	run := journal.runs[report.RunID]
	require.NotNil(t, run)
	assert.Equal(t, storage.RunSucceeded, run.Status)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, []string{
		"factory:pending", "factory:built", "factory:submitted", "factory:confirmed",
		"router:pending", "router:built", "router:submitted", "router:confirmed",
		"chef:pending", "chef:built", "chef:submitted", "chef:confirmed",
	}, journal.states)
	assert.Equal(t, factory, journal.steps["factory"].Address)
}

func TestRun_BuildFailureHaltsAfterConfirmedSteps(t *testing.T) {
	compileErr := errors.New("forge exited with status 1")
	builder := &fakeBuilder{failOn: map[string]error{"KmbioRouter": compileErr}}
	chain := newFakeChain(8453)
	journal := newMemJournal()
	o := NewOrchestrator(builder, chain, WithJournal(journal), WithLogger(discardLogger()))

	report, err := o.Run(context.Background(), kmbioPlan(t, "goerli"))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrBuild)
	assert.ErrorIs(t, err, compileErr)
	assert.False(t, IsConfigurationError(err))

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, "router", stepErr.StepID)
	assert.Equal(t, StatePending, stepErr.State)
	assert.Empty(t, stepErr.TxHash)

	// the factory stays deployed and is reported
	require.Len(t, report.Results, 1)
	assert.Equal(t, "factory", report.Results[0].StepID)
	assert.Same(t, stepErr, report.Failure)
	assert.Equal(t, storage.RunFailed, report.Status())

	// nothing after the failing step was attempted
	assert.Equal(t, []string{"deploy:KmbioFactory", "confirm:KmbioFactory"}, chain.events)
	assert.Equal(t, string(StateFailed), journal.steps["router"].State)
	assert.Equal(t, storage.RunFailed, journal.runs[report.RunID].Status)
	assert.Contains(t, journal.runs[report.RunID].Error, "router")
}

func TestRun_SubmissionFailureKeepsHash(t *testing.T) {
	chain := newFakeChain(1337)
	chain.failOn = map[string]error{"KmbioFactory": errors.New("replacement transaction underpriced")}
	chain.hashOnly = map[string]bool{"KmbioFactory": true}
	o := NewOrchestrator(&fakeBuilder{}, chain, WithLogger(discardLogger()))

	report, err := o.Run(context.Background(), kmbioPlan(t, "localhost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmission)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StateBuilt, stepErr.State)
	assert.NotEmpty(t, stepErr.TxHash)
	assert.Contains(t, err.Error(), stepErr.TxHash)
	assert.Empty(t, report.Results)
}

func TestRun_ConfirmationFailure(t *testing.T) {
	chain := newFakeChain(1337)
	chain.rejectOn = map[string]error{"MasterChef": context.DeadlineExceeded}
	o := NewOrchestrator(&fakeBuilder{}, chain, WithLogger(discardLogger()), WithConfirmationTimeout(time.Second))

	report, err := o.Run(context.Background(), kmbioPlan(t, "localhost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfirmation)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Index)
	assert.Equal(t, StateSubmitted, stepErr.State)
	assert.NotEmpty(t, stepErr.TxHash)
	assert.Len(t, report.Results, 2)
}

func TestRun_CancellationStopsBeforeNextStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chain := newFakeChain(1337)
	chain.onConfirm = func(contract string) {
		if contract == "KmbioFactory" {
			cancel()
		}
	}
	journal := newMemJournal()
	o := NewOrchestrator(&fakeBuilder{}, chain, WithJournal(journal), WithLogger(discardLogger()))

	report, err := o.Run(ctx, kmbioPlan(t, "localhost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)

	assert.True(t, report.Aborted)
	assert.Equal(t, storage.RunAborted, report.Status())
	require.Len(t, report.Results, 1)
	assert.Equal(t, "router", report.Failure.StepID)
	assert.Equal(t, []string{"deploy:KmbioFactory", "confirm:KmbioFactory"}, chain.events)
	assert.Equal(t, storage.RunAborted, journal.runs[report.RunID].Status)
}

func TestRun_ConfirmationOutlivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := newFakeChain(1337)
	o := NewOrchestrator(&fakeBuilder{}, chain, WithLogger(discardLogger()))
	ps := kmbioPlan(t, "localhost").Steps[0]

	result, stepErr := o.runStep(ctx, discardLogger(), &Report{Network: "localhost"}, 0, ps, map[string]string{})
	require.Nil(t, stepErr)
	assert.NotEmpty(t, result.Address)
	require.Len(t, chain.confirmCtxErr, 1)
	assert.NoError(t, chain.confirmCtxErr[0])
}

func TestRun_JournalFailureDoesNotFailRun(t *testing.T) {
	journal := newMemJournal()
	journal.fail = errors.New("disk full")
	o := NewOrchestrator(&fakeBuilder{}, newFakeChain(1337), WithJournal(journal), WithLogger(discardLogger()))

	report, err := o.Run(context.Background(), kmbioPlan(t, "localhost"))
	require.NoError(t, err)
	assert.Len(t, report.Results, 3)
}

func TestBindArgs(t *testing.T) {
	addresses := map[string]string{"factory": "0x0000000000000000000000000000000000000001"}

	got, err := bindArgs([]Arg{Ref("factory"), Literal("7")}, addresses)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x0000000000000000000000000000000000000001", "7"}, got)

	_, err = bindArgs([]Arg{Ref("router")}, addresses)
	assert.ErrorIs(t, err, ErrUnresolvedReference)
}

func TestRunAll_NetworksAreIndependent(t *testing.T) {
	failing := newFakeChain(8453)
	failing.failOn = map[string]error{"KmbioFactory": errors.New("insufficient funds")}
	healthy := newFakeChain(1337)

	jobs := []Job{
		{Orchestrator: NewOrchestrator(&fakeBuilder{}, failing, WithLogger(discardLogger())), Plan: kmbioPlan(t, "goerli")},
		{Orchestrator: NewOrchestrator(&fakeBuilder{}, healthy, WithLogger(discardLogger())), Plan: kmbioPlan(t, "localhost")},
	}

	outcomes := RunAll(context.Background(), jobs, 0)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "goerli", outcomes[0].Network)
	assert.ErrorIs(t, outcomes[0].Err, ErrSubmission)
	assert.Equal(t, "localhost", outcomes[1].Network)
	assert.NoError(t, outcomes[1].Err)
	assert.Len(t, outcomes[1].Report.Results, 3)

	failed := FailedOutcomes(outcomes)
	require.Len(t, failed, 1)
	err := ErrorOf(outcomes)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Contains(t, err.Error(), "goerli")
}

func TestRunAll_Limit(t *testing.T) {
	var inFlight, peak atomic.Int32
	track := func(string) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	}

	var jobs []Job
	for _, network := range []string{"goerli", "localhost", "sepolia"} {
		chain := newFakeChain(1337)
		chain.onConfirm = track
		jobs = append(jobs, Job{
			Orchestrator: NewOrchestrator(&fakeBuilder{}, chain, WithLogger(discardLogger())),
			Plan:         kmbioPlan(t, network),
		})
	}

	outcomes := RunAll(context.Background(), jobs, 1)
	require.Len(t, outcomes, 3)
	for i, oc := range outcomes {
		assert.Equal(t, jobs[i].Plan.Network, oc.Network)
		assert.NoError(t, oc.Err)
	}
	assert.Equal(t, int32(1), peak.Load())
}
