package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contradeploy/internal/networks"
	"github.com/pendergraft/contradeploy/internal/toolchain"
)

const (
	feeSetter = "0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061"
	weth      = "0x4200000000000000000000000000000000000006"
)

func kmbioSteps() []Step {
	return []Step{
		{ID: "factory", Contract: "KmbioFactory", Args: []Arg{Literal(feeSetter)}},
		{ID: "router", Contract: "KmbioRouter", Args: []Arg{Ref("factory"), Literal(weth)}},
		{ID: "chef", Contract: "MasterChef", Args: []Arg{Literal(feeSetter), Literal("30000000000000000"), Literal("0")}},
	}
}

func TestNewPlan(t *testing.T) {
	plan, err := NewPlan("goerli", kmbioSteps(), kmbioCatalog(), kmbioResolver())
	require.NoError(t, err)

	assert.Equal(t, "goerli", plan.Network)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "factory", plan.Steps[0].ID)
	assert.Equal(t, "0.5.16", plan.Steps[0].Compiler.Version)
	assert.Equal(t, "0.6.6", plan.Steps[1].Compiler.Version)
	assert.Equal(t, "contracts/MasterChef.sol", plan.Steps[2].Unit.Path)
	assert.Equal(t, map[string]bool{"factory": true}, plan.Refs())
}

func TestNewPlan_DefaultsIDToContract(t *testing.T) {
	steps := []Step{
		{Contract: "KmbioFactory", Args: []Arg{Literal(feeSetter)}},
		{Contract: "KmbioRouter", Args: []Arg{Ref("KmbioFactory"), Literal(weth)}},
	}
	plan, err := NewPlan("goerli", steps, kmbioCatalog(), kmbioResolver())
	require.NoError(t, err)
	assert.Equal(t, "KmbioFactory", plan.Steps[0].ID)
	assert.Equal(t, "KmbioRouter", plan.Steps[1].ID)
}

func TestNewPlan_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Step
		wantMsg string
		wantErr error
	}{
		{
			name:    "empty plan",
			steps:   nil,
			wantMsg: "no steps",
		},
		{
			name: "forward reference",
			steps: []Step{
				{ID: "router", Contract: "KmbioRouter", Args: []Arg{Ref("factory"), Literal(weth)}},
				{ID: "factory", Contract: "KmbioFactory", Args: []Arg{Literal(feeSetter)}},
			},
			wantMsg: `refers to later step "factory"`,
		},
		{
			name: "self reference",
			steps: []Step{
				{ID: "factory", Contract: "KmbioFactory", Args: []Arg{Ref("factory")}},
			},
			wantMsg: "refers to its own step",
		},
		{
			name: "unknown reference",
			steps: []Step{
				{ID: "router", Contract: "KmbioRouter", Args: []Arg{Ref("nope")}},
			},
			wantMsg: `unknown step "nope"`,
		},
		{
			name: "duplicate id",
			steps: []Step{
				{ID: "a", Contract: "KmbioFactory"},
				{ID: "a", Contract: "MasterChef"},
			},
			wantMsg: `duplicate step id "a"`,
		},
		{
			name: "unknown contract",
			steps: []Step{
				{ID: "x", Contract: "Uniswap"},
			},
			wantMsg: `unknown contract "Uniswap"`,
		},
		{
			name: "invalid step id",
			steps: []Step{
				{ID: "1bad", Contract: "KmbioFactory"},
			},
			wantMsg: "step 1 (1bad)",
		},
		{
			name: "no compiler satisfies pragma",
			steps: []Step{
				{ID: "legacy", Contract: "Legacy"},
			},
			wantErr: toolchain.ErrUnsupportedVersion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewPlan("goerli", tt.steps, kmbioCatalog(), kmbioResolver())
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.True(t, IsConfigurationError(err))
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNewPlan_ReportsEveryProblem(t *testing.T) {
	steps := []Step{
		{ID: "router", Contract: "KmbioRouter", Args: []Arg{Ref("factory")}},
		{ID: "factory", Contract: "Nope"},
		{ID: "legacy", Contract: "Legacy"},
	}
	_, err := NewPlan("goerli", steps, kmbioCatalog(), kmbioResolver())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "later step")
	assert.Contains(t, err.Error(), "unknown contract")
	assert.ErrorIs(t, err, toolchain.ErrUnsupportedVersion)
}

func TestIsConfigurationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"configuration", ErrConfiguration, true},
		{"missing signer", errors.Join(errors.New("goerli"), networks.ErrMissingCredential), true},
		{"unknown network", networks.ErrUnknownNetwork, true},
		{"chain id mismatch", networks.ErrChainIDMismatch, true},
		{"unsupported compiler", toolchain.ErrUnsupportedVersion, true},
		{"build", ErrBuild, false},
		{"step error wrapping build", &StepError{Err: ErrBuild}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfigurationError(tt.err))
		})
	}
}
