package domain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/config"
	deploy "github.com/pendergraft/contradeploy/internal/deployments/domain"
	"github.com/pendergraft/contradeploy/internal/networks"
	"github.com/pendergraft/contradeploy/internal/verification/explorer"
)

const (
	factoryAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	feeSetter      = "0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061"
)

type fakeSubmitter struct {
	submissions []explorer.Submission
	submitErr   error
	status      explorer.Status
	waitErr     error
}

func (f *fakeSubmitter) Submit(ctx context.Context, sub explorer.Submission) (string, error) {
	f.submissions = append(f.submissions, sub)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "guid-1", nil
}

func (f *fakeSubmitter) WaitForVerification(ctx context.Context, chainID int64, guid string) (explorer.Status, error) {
	return f.status, f.waitErr
}

func testProfile() networks.Profile {
	return networks.Profile{
		Name:           "goerli",
		ChainID:        8453,
		ExplorerAPIURL: "https://api.basescan.org/api",
		ExplorerUIURL:  "https://basescan.org",
		ExplorerAPIKey: config.NewSecret("KEY"),
	}
}

func factoryArtifact() *chains.Artifact {
	return &chains.Artifact{
		Name:  "KmbioFactory",
		Chain: "evm",
		EVM: &chains.EVMArtifact{
			SourcePath:        "contracts/KmbioFactory.sol",
			License:           "MIT",
			ABI:               json.RawMessage(`[{"type":"constructor","inputs":[{"name":"_feeToSetter","type":"address"}],"stateMutability":"nonpayable"}]`),
			StandardJSONInput: json.RawMessage(`{"language":"Solidity"}`),
			Compiler: chains.EVMCompiler{
				Version:   "0.5.16+commit.9c3226ce",
				Optimizer: chains.OptimizerConfig{Enabled: true, Runs: 200},
			},
		},
	}
}

func factoryRequest() Request {
	return Request{
		StepID:   "factory",
		ChainID:  8453,
		Address:  factoryAddress,
		Artifact: factoryArtifact(),
		Args:     []string{feeSetter},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVerify_Success(t *testing.T) {
	sub := &fakeSubmitter{status: explorer.Status{Verified: true, Message: "Pass - Verified"}}
	svc := NewService(testProfile(), sub, quietLogger())

	out := svc.Verify(context.Background(), factoryRequest())
	assert.Equal(t, StatusVerified, out.Status)
	assert.Equal(t, "guid-1", out.GUID)
	assert.Equal(t, "KmbioFactory", out.Contract)
	assert.Equal(t, "https://basescan.org/address/"+factoryAddress, out.URL)

	require.Len(t, sub.submissions, 1)
	got := sub.submissions[0]
	assert.Equal(t, int64(8453), got.ChainID)
	assert.Equal(t, "contracts/KmbioFactory.sol:KmbioFactory", got.ContractName)
	assert.Equal(t, "v0.5.16+commit.9c3226ce", got.CompilerVersion)
	assert.True(t, got.Optimized)
	assert.Equal(t, 200, got.Runs)
	assert.Equal(t, "MIT", got.License)
	// the address literal, left-padded to one ABI word
	assert.Equal(t, "000000000000000000000000e05b36b0e0e070bc5bc1b90b3435924aa02cc061", got.ConstructorArgs)
}

func TestVerify_AlreadyVerified(t *testing.T) {
	sub := &fakeSubmitter{submitErr: explorer.ErrAlreadyVerified}
	svc := NewService(testProfile(), sub, quietLogger())

	out := svc.Verify(context.Background(), factoryRequest())
	assert.Equal(t, StatusVerified, out.Status)
	assert.Equal(t, "already verified", out.Reason)
}

func TestVerify_Skipped(t *testing.T) {
	noAPI := testProfile()
	noAPI.ExplorerAPIURL = ""

	noJSON := factoryRequest()
	noJSON.Artifact.EVM.StandardJSONInput = nil

	noArtifact := factoryRequest()
	noArtifact.Artifact = nil

	tests := []struct {
		name       string
		profile    networks.Profile
		submitter  Submitter
		req        Request
		wantReason string
	}{
		{"no explorer API", noAPI, nil, factoryRequest(), "no explorer API"},
		{"no API key", testProfile(), nil, factoryRequest(), config.EnvExplorerAPIKey},
		{"no standard JSON", testProfile(), &fakeSubmitter{}, noJSON, "standard JSON"},
		{"no artifact", testProfile(), &fakeSubmitter{}, noArtifact, "no build artifact"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.profile, tt.submitter, quietLogger())
			out := svc.Verify(context.Background(), tt.req)
			assert.Equal(t, StatusSkipped, out.Status)
			assert.Contains(t, out.Reason, tt.wantReason)
		})
	}
}

func TestVerify_Failed(t *testing.T) {
	badArgs := factoryRequest()
	badArgs.Args = []string{"not-an-address"}

	badAddress := factoryRequest()
	badAddress.Address = "0x1234"

	tests := []struct {
		name       string
		submitter  *fakeSubmitter
		req        Request
		wantReason string
	}{
		{"rejected", &fakeSubmitter{submitErr: errors.New("verification rejected: bytecode mismatch")}, factoryRequest(), "bytecode mismatch"},
		{"explorer says fail", &fakeSubmitter{status: explorer.Status{Message: "Fail - Unable to verify"}}, factoryRequest(), "Unable to verify"},
		{"still pending", &fakeSubmitter{waitErr: explorer.ErrStillPending}, factoryRequest(), "pending"},
		{"bad constructor literal", &fakeSubmitter{}, badArgs, "not-an-address"},
		{"bad address", &fakeSubmitter{}, badAddress, "address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(testProfile(), tt.submitter, quietLogger())
			out := svc.Verify(context.Background(), tt.req)
			assert.Equal(t, StatusFailed, out.Status)
			assert.Contains(t, out.Reason, tt.wantReason)
		})
	}
}

func TestVerifyReport_ContinuesAfterFailure(t *testing.T) {
	sub := &fakeSubmitter{status: explorer.Status{Verified: true}}
	svc := NewService(testProfile(), sub, quietLogger())

	noJSON := factoryArtifact()
	noJSON.EVM.StandardJSONInput = nil

	report := &deploy.Report{
		Network: "goerli",
		ChainID: 8453,
		Results: []deploy.Result{
			{StepID: "broken", Address: factoryAddress, Artifact: noJSON, Args: []string{feeSetter}},
			{StepID: "factory", Address: factoryAddress, Artifact: factoryArtifact(), Args: []string{feeSetter}},
		},
	}

	outcomes := svc.VerifyReport(context.Background(), report)
	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusSkipped, outcomes[0].Status)
	assert.Equal(t, StatusVerified, outcomes[1].Status)
	assert.Equal(t, map[Status]int{StatusSkipped: 1, StatusVerified: 1}, Summary(outcomes))

	// verification never alters the deployment results
	assert.Equal(t, factoryAddress, report.Results[1].Address)
}

func TestForProfile(t *testing.T) {
	cfg := config.VerificationConfig{StatusAttempts: 3, RequestsPerSecond: 2}

	enabled := ForProfile(testProfile(), cfg, quietLogger())
	assert.NotNil(t, enabled.submitter)

	noKey := testProfile()
	noKey.ExplorerAPIKey = config.Secret{}
	disabled := ForProfile(noKey, cfg, quietLogger())
	assert.Nil(t, disabled.submitter)
}
