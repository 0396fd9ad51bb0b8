package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/storage"
	"github.com/pendergraft/contradeploy/internal/toolchain"
)

type fakeCatalog map[string]chains.SourceUnit

func (c fakeCatalog) Unit(name string) (chains.SourceUnit, bool) {
	u, ok := c[name]
	return u, ok
}

func kmbioCatalog() fakeCatalog {
	return fakeCatalog{
		"KmbioFactory": {Path: "contracts/KmbioFactory.sol", Contract: "KmbioFactory"},
		"KmbioRouter":  {Path: "contracts/KmbioRouter.sol", Contract: "KmbioRouter"},
		"MasterChef":   {Path: "contracts/MasterChef.sol", Contract: "MasterChef"},
		"Legacy":       {Path: "contracts/Legacy.sol", Contract: "Legacy"},
	}
}

// fakeResolver pins versions by source path
type fakeResolver map[string]string

func (r fakeResolver) Resolve(unit chains.SourceUnit) (toolchain.CompilerSpec, error) {
	v, ok := r[unit.Path]
	if !ok {
		return toolchain.CompilerSpec{}, fmt.Errorf("%w: no registered compiler satisfies %s", toolchain.ErrUnsupportedVersion, unit.Path)
	}
	return toolchain.CompilerSpec{Version: v, Optimizer: toolchain.DefaultOptimizer}, nil
}

func kmbioResolver() fakeResolver {
	return fakeResolver{
		"contracts/KmbioFactory.sol": "0.5.16",
		"contracts/KmbioRouter.sol":  "0.6.6",
		"contracts/MasterChef.sol":   "0.8.14",
	}
}

type fakeBuilder struct {
	mu     sync.Mutex
	built  []string
	failOn map[string]error
}

func (b *fakeBuilder) Name() string { return "fake" }

func (b *fakeBuilder) Build(ctx context.Context, unit chains.SourceUnit, version string, optimizer chains.OptimizerConfig) (*chains.Artifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.built = append(b.built, unit.Contract+"@"+version)
	if err := b.failOn[unit.Contract]; err != nil {
		return nil, err
	}
	return &chains.Artifact{
		Name:  unit.Contract,
		Chain: "evm",
		EVM:   &chains.EVMArtifact{SourcePath: unit.Path, Bytecode: "0x6080"},
	}, nil
}

type deployCall struct {
	contract string
	args     []string
}

// fakeChain assigns sequential addresses and records the order of events
type fakeChain struct {
	mu       sync.Mutex
	chainID  int64
	events   []string
	deploys  []deployCall
	pending  map[string]string // tx hash -> contract
	next     int
	failOn   map[string]error // contract -> Deploy error
	hashOnly map[string]bool  // failing Deploy still returns a hash
	rejectOn map[string]error // contract -> AwaitConfirmation error

	// onConfirm runs after a receipt is produced
	onConfirm func(contract string)
	// confirmCtxErr records ctx.Err() seen by AwaitConfirmation
	confirmCtxErr []error
}

func newFakeChain(chainID int64) *fakeChain {
	return &fakeChain{chainID: chainID, pending: map[string]string{}}
}

func (c *fakeChain) ChainID() int64 { return c.chainID }

func (c *fakeChain) From() string { return "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" }

func (c *fakeChain) Deploy(ctx context.Context, artifact *chains.Artifact, args []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	hash := fmt.Sprintf("0x%064x", c.next)
	c.events = append(c.events, "deploy:"+artifact.Name)
	c.deploys = append(c.deploys, deployCall{contract: artifact.Name, args: args})
	if err := c.failOn[artifact.Name]; err != nil {
		if c.hashOnly[artifact.Name] {
			return hash, err
		}
		return "", err
	}
	c.pending[hash] = artifact.Name
	return hash, nil
}

func (c *fakeChain) AwaitConfirmation(ctx context.Context, txHash string) (*chains.Receipt, error) {
	c.mu.Lock()
	contract := c.pending[txHash]
	c.confirmCtxErr = append(c.confirmCtxErr, ctx.Err())
	c.events = append(c.events, "confirm:"+contract)
	err := c.rejectOn[contract]
	onConfirm := c.onConfirm
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if onConfirm != nil {
		onConfirm(contract)
	}
	return &chains.Receipt{
		TxHash:          txHash,
		ContractAddress: addressFor(contract),
		BlockNumber:     100,
		GasUsed:         21000,
	}, nil
}

func addressFor(contract string) string {
	return fmt.Sprintf("0x%040x", len(contract))
}

type memJournal struct {
	mu     sync.Mutex
	runs   map[string]*storage.Run
	states []string // "stepID:state" in write order
	steps  map[string]storage.StepRecord
	fail   error
}

func newMemJournal() *memJournal {
	return &memJournal{runs: map[string]*storage.Run{}, steps: map[string]storage.StepRecord{}}
}

func (j *memJournal) CreateRun(ctx context.Context, run *storage.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	r := *run
	j.runs[run.ID] = &r
	return nil
}

func (j *memJournal) FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	r, ok := j.runs[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = status
	r.Error = errMsg
	r.FinishedAt = &finishedAt
	return nil
}

func (j *memJournal) RecordStep(ctx context.Context, step *storage.StepRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.states = append(j.states, step.StepID+":"+step.State)
	j.steps[step.StepID] = *step
	return nil
}

func kmbioPlanOptimizer() chains.OptimizerConfig {
	return toolchain.DefaultOptimizer
}
