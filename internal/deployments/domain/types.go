// Package domain contains the deployment orchestration logic: plans, runs and
// the run history kept in the journal.
package domain

import (
	"strings"
	"time"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/storage"
	"github.com/pendergraft/contradeploy/internal/toolchain"
)

// Arg is one constructor argument of a step: either a literal value or a
// reference to the address produced by an earlier step.
type Arg struct {
	Literal string `json:"literal,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

// Literal returns a literal argument
func Literal(v string) Arg { return Arg{Literal: v} }

// Ref returns an argument bound to the address of step id
func Ref(id string) Arg { return Arg{Ref: id} }

// IsRef reports whether the argument refers to an earlier step
func (a Arg) IsRef() bool { return a.Ref != "" }

// String renders refs as "@id" and literals verbatim
func (a Arg) String() string {
	if a.IsRef() {
		return "@" + a.Ref
	}
	return a.Literal
}

// Step is one requested contract deployment
type Step struct {
	ID       string `json:"id" yaml:"id"`
	Contract string `json:"contract" yaml:"contract"`
	Args     []Arg  `json:"args,omitempty" yaml:"args,omitempty"`
}

func (s Step) String() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.String()
	}
	return s.ID + "=" + s.Contract + "(" + strings.Join(args, ", ") + ")"
}

// PlannedStep is a validated step with its build inputs pinned
type PlannedStep struct {
	Step
	Unit     chains.SourceUnit
	Compiler toolchain.CompilerSpec
}

// Plan is an ordered, validated sequence of steps for one network
type Plan struct {
	Network string
	Steps   []PlannedStep
}

// State is the lifecycle position of a step.
// Pending -> Built -> Submitted -> Confirmed, with Failed reachable from any
// non-terminal state.
type State string

const (
	StatePending   State = "pending"
	StateBuilt     State = "built"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Result is a confirmed deployment
type Result struct {
	StepID      string                 `json:"stepId"`
	Contract    string                 `json:"contract"`
	Unit        chains.SourceUnit      `json:"unit"`
	Compiler    toolchain.CompilerSpec `json:"compiler"`
	Args        []string               `json:"args"` // bound, refs replaced by addresses
	Address     string                 `json:"address"`
	TxHash      string                 `json:"txHash"`
	BlockNumber uint64                 `json:"blockNumber"`
	GasUsed     uint64                 `json:"gasUsed"`
	Artifact    *chains.Artifact       `json:"-"`
}

// Report summarizes a run. Results hold every step that confirmed before
// the run ended; Failure is set when the run halted.
type Report struct {
	RunID      string     `json:"runId"`
	Network    string     `json:"network"`
	ChainID    int64      `json:"chainId"`
	Deployer   string     `json:"deployer,omitempty"`
	Results    []Result   `json:"results"`
	Failure    *StepError `json:"-"`
	Aborted    bool       `json:"aborted,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// Succeeded reports whether every planned step confirmed
func (r *Report) Succeeded() bool {
	return r.Failure == nil && !r.Aborted
}

// Status returns the journal status of the run
func (r *Report) Status() string {
	switch {
	case r.Aborted:
		return storage.RunAborted
	case r.Failure != nil:
		return storage.RunFailed
	default:
		return storage.RunSucceeded
	}
}

// Address returns the address deployed by step id
func (r *Report) Address(id string) (string, bool) {
	for _, res := range r.Results {
		if res.StepID == id {
			return res.Address, true
		}
	}
	return "", false
}

// RunSummary is a journaled run as returned by the history service
type RunSummary struct {
	ID         string     `json:"id"`
	Network    string     `json:"network"`
	ChainID    int64      `json:"chainId"`
	Deployer   string     `json:"deployer,omitempty"`
	Status     string     `json:"status"`
	Steps      int        `json:"steps"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// StepRecord is the journaled state of one step
type StepRecord struct {
	Index       int       `json:"index"`
	StepID      string    `json:"stepId"`
	Contract    string    `json:"contract"`
	State       State     `json:"state"`
	Compiler    string    `json:"compiler,omitempty"`
	Args        []string  `json:"args,omitempty"`
	TxHash      string    `json:"txHash,omitempty"`
	Address     string    `json:"address,omitempty"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RunDetail is a run together with its steps
type RunDetail struct {
	RunSummary
	StepRecords []StepRecord `json:"stepRecords"`
}

// ListFilter contains filter options for listing runs.
type ListFilter struct {
	Network string
	Status  string
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// ListResult contains paginated list results.
type ListResult struct {
	Runs       []RunSummary
	HasMore    bool
	NextCursor string
}
