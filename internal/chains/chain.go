// Package chains holds the chain-agnostic types shared by the build service,
// the blockchain service and the deployment orchestrator.
package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// SourceUnit identifies one contract inside one source file
type SourceUnit struct {
	Path     string `json:"path"` // "contracts/KmbioFactory.sol"
	Contract string `json:"contract"`
}

// String renders the unit the way compilers print fully qualified names
func (u SourceUnit) String() string {
	return u.Path + ":" + u.Contract
}

// FileName returns the base name of the source file ("KmbioFactory.sol")
func (u SourceUnit) FileName() string {
	return path.Base(u.Path)
}

// Validate checks that both halves of the unit are present
func (u SourceUnit) Validate() error {
	if u.Path == "" {
		return fmt.Errorf("source path is empty")
	}
	if u.Contract == "" {
		return fmt.Errorf("contract name is empty for %s", u.Path)
	}
	if !strings.HasSuffix(u.Path, ".sol") {
		return fmt.Errorf("source %s is not a Solidity file", u.Path)
	}
	return nil
}

// OptimizerConfig contains optimizer settings
type OptimizerConfig struct {
	Enabled bool `json:"enabled" toml:"enabled"`
	Runs    int  `json:"runs" toml:"runs"`
}

// Artifact is a deployable build output
type Artifact struct {
	Name  string `json:"name"`
	Chain string `json:"chain"` // "evm"

	EVM *EVMArtifact `json:"evm,omitempty"`
}

// EVMArtifact contains EVM-specific contract data
type EVMArtifact struct {
	SourcePath        string          `json:"sourcePath"`
	License           string          `json:"license,omitempty"`
	ABI               json.RawMessage `json:"abi"`
	Bytecode          string          `json:"bytecode"`
	DeployedBytecode  string          `json:"deployedBytecode"`
	StandardJSONInput json.RawMessage `json:"standardJsonInput,omitempty"`
	Compiler          EVMCompiler     `json:"compiler"`
}

// EVMCompiler contains EVM compiler details
type EVMCompiler struct {
	Version    string          `json:"version"` // "0.8.14+commit.80d49f37"
	Optimizer  OptimizerConfig `json:"optimizer"`
	EVMVersion string          `json:"evmVersion,omitempty"`
	ViaIR      bool            `json:"viaIR,omitempty"`
}

// LongVersion returns the compiler version in the "v0.8.14+commit.80d49f37"
// form block explorers expect.
func (c EVMCompiler) LongVersion() string {
	if c.Version == "" || strings.HasPrefix(c.Version, "v") {
		return c.Version
	}
	return "v" + c.Version
}

// Builder turns a source unit into a deployable artifact using a pinned
// compiler version.
type Builder interface {
	Name() string // "foundry"
	Build(ctx context.Context, unit SourceUnit, version string, optimizer OptimizerConfig) (*Artifact, error)
}

// VerifyResult is the outcome of comparing on-chain code with an artifact
type VerifyResult struct {
	Match     bool   // Whether the bytecode matches
	MatchType string // "full", "partial", "none"
	Message   string // Human-readable explanation
}

// Receipt is a mined deployment transaction
type Receipt struct {
	TxHash          string `json:"txHash"`
	ContractAddress string `json:"contractAddress"`
	BlockNumber     uint64 `json:"blockNumber"`
	GasUsed         uint64 `json:"gasUsed"`
}
