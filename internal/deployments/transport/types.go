package transport

import (
	"time"

	"github.com/pendergraft/contradeploy/internal/deployments/domain"
)

// RunListResponse is the response for listing runs.
type RunListResponse struct {
	Data       []RunItem  `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// RunItem is a run in a list.
type RunItem struct {
	ID         string     `json:"id"`
	Network    string     `json:"network"`
	ChainID    int64      `json:"chainId"`
	Deployer   string     `json:"deployer,omitempty"`
	Status     string     `json:"status"`
	StepCount  int        `json:"stepCount"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// RunResponse is the response for getting a run.
type RunResponse struct {
	RunItem
	Steps []StepItem `json:"steps"`
}

// StepItem is the journaled state of one step.
type StepItem struct {
	Index       int       `json:"index"`
	StepID      string    `json:"stepId"`
	Contract    string    `json:"contract"`
	State       string    `json:"state"`
	Compiler    string    `json:"compiler,omitempty"`
	Args        []string  `json:"args,omitempty"`
	TxHash      string    `json:"txHash,omitempty"`
	Address     string    `json:"address,omitempty"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Pagination provides pagination metadata.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toRunItem(r domain.RunSummary) RunItem {
	return RunItem{
		ID:         r.ID,
		Network:    r.Network,
		ChainID:    r.ChainID,
		Deployer:   r.Deployer,
		Status:     r.Status,
		StepCount:  r.Steps,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func toStepItem(st domain.StepRecord) StepItem {
	return StepItem{
		Index:       st.Index,
		StepID:      st.StepID,
		Contract:    st.Contract,
		State:       string(st.State),
		Compiler:    st.Compiler,
		Args:        st.Args,
		TxHash:      st.TxHash,
		Address:     st.Address,
		BlockNumber: st.BlockNumber,
		Error:       st.Error,
		UpdatedAt:   st.UpdatedAt,
	}
}
