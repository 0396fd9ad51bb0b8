package domain

import (
	"errors"
	"fmt"

	"github.com/pendergraft/contradeploy/internal/networks"
	"github.com/pendergraft/contradeploy/internal/toolchain"
)

// Failure classes. Every error returned by Run wraps exactly one of them.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrBuild               = errors.New("build failed")
	ErrSubmission          = errors.New("submission failed")
	ErrConfirmation        = errors.New("confirmation failed")
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrAborted             = errors.New("run aborted")

	ErrNotFound = errors.New("run not found")
)

// IsConfigurationError reports whether err was caused by project, plan or
// environment configuration rather than by the chain or the compiler.
func IsConfigurationError(err error) bool {
	for _, target := range []error{
		ErrConfiguration,
		networks.ErrUnknownNetwork,
		networks.ErrMissingCredential,
		networks.ErrMissingEndpoint,
		networks.ErrChainIDMismatch,
		toolchain.ErrNoCompilers,
		toolchain.ErrUnsupportedVersion,
		toolchain.ErrInvalidDeclaration,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StepError describes the step a run halted on
type StepError struct {
	Index    int    // zero-based position in the plan
	StepID   string
	Contract string
	State    State  // last state the step reached
	TxHash   string // set once the transaction was broadcast
	Err      error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("step %d (%s, %s): %v", e.Index+1, e.StepID, e.Contract, e.Err)
	if e.TxHash != "" {
		msg += " [tx " + e.TxHash + "]"
	}
	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}
