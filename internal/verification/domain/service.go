// Package domain requests source verification for deployed contracts.
// Verification is best effort: its outcome is reported and never changes the
// deployment it describes.
package domain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/chains/evm"
	"github.com/pendergraft/contradeploy/internal/config"
	deploy "github.com/pendergraft/contradeploy/internal/deployments/domain"
	"github.com/pendergraft/contradeploy/internal/networks"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	"github.com/pendergraft/contradeploy/internal/validation"
	"github.com/pendergraft/contradeploy/internal/verification/explorer"
)

// Status is the verification result class
type Status string

const (
	StatusVerified Status = "verified"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome is the result of one verification request
type Outcome struct {
	StepID   string `json:"stepId,omitempty"`
	Contract string `json:"contract"`
	Address  string `json:"address"`
	Status   Status `json:"status"`
	Reason   string `json:"reason,omitempty"`
	GUID     string `json:"guid,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Request describes a deployed contract to verify. Args are the bound
// constructor literals, with step references already replaced by addresses.
type Request struct {
	StepID   string
	ChainID  int64
	Address  string
	Artifact *chains.Artifact
	Args     []string
}

// RequestFromResult builds a request for a confirmed deployment
func RequestFromResult(chainID int64, res deploy.Result) Request {
	return Request{
		StepID:   res.StepID,
		ChainID:  chainID,
		Address:  res.Address,
		Artifact: res.Artifact,
		Args:     res.Args,
	}
}

// Submitter is the explorer API
type Submitter interface {
	Submit(ctx context.Context, sub explorer.Submission) (string, error)
	WaitForVerification(ctx context.Context, chainID int64, guid string) (explorer.Status, error)
}

// Service verifies contracts on one network's explorer
type Service struct {
	profile   networks.Profile
	submitter Submitter
	logger    *slog.Logger
}

// NewService creates a service. A nil submitter skips every request.
func NewService(profile networks.Profile, submitter Submitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{profile: profile, submitter: submitter, logger: logger}
}

// ForProfile creates a service backed by the profile's explorer API, or a
// skipping service when the profile has no explorer credentials.
func ForProfile(profile networks.Profile, cfg config.VerificationConfig, logger *slog.Logger) *Service {
	if !profile.ExplorerEnabled() {
		return NewService(profile, nil, logger)
	}
	client := explorer.New(profile.ExplorerAPIURL, profile.ExplorerAPIKey.Value(),
		explorer.WithRateLimit(cfg.RequestsPerSecond),
		explorer.WithStatusPolling(cfg.StatusAttempts, 5*time.Second),
		explorer.WithLogger(logger),
	)
	return NewService(profile, client, logger)
}

// Verify submits one contract and waits for the explorer's verdict
func (s *Service) Verify(ctx context.Context, req Request) Outcome {
	out := s.verify(ctx, req)
	metrics.VerificationRequest(s.profile.Name, string(out.Status))

	attrs := []any{"network", s.profile.Name, "contract", out.Contract, "address", out.Address, "status", out.Status}
	switch out.Status {
	case StatusFailed:
		s.logger.Warn("verification failed", append(attrs, "reason", out.Reason, "guid", out.GUID)...)
	case StatusSkipped:
		s.logger.Info("verification skipped", append(attrs, "reason", out.Reason)...)
	default:
		s.logger.Info("contract verified", append(attrs, "url", out.URL)...)
	}
	return out
}

func (s *Service) verify(ctx context.Context, req Request) Outcome {
	out := Outcome{StepID: req.StepID, Address: req.Address}
	if req.Artifact != nil {
		out.Contract = req.Artifact.Name
	}

	if reason := s.skipReason(req); reason != "" {
		out.Status = StatusSkipped
		out.Reason = reason
		return out
	}
	if err := validation.ValidateAddress(req.Address); err != nil {
		return failed(out, err)
	}

	evmArtifact := req.Artifact.EVM
	var args string
	if len(req.Args) > 0 {
		encoded, err := evm.EncodeConstructorArgs(evmArtifact.ABI, req.Args)
		if err != nil {
			return failed(out, err)
		}
		args = hex.EncodeToString(encoded)
	}

	sub := explorer.Submission{
		ChainID:         req.ChainID,
		Address:         req.Address,
		ContractName:    evmArtifact.SourcePath + ":" + req.Artifact.Name,
		CompilerVersion: evmArtifact.Compiler.LongVersion(),
		StandardJSON:    evmArtifact.StandardJSONInput,
		ConstructorArgs: args,
		Optimized:       evmArtifact.Compiler.Optimizer.Enabled,
		Runs:            evmArtifact.Compiler.Optimizer.Runs,
		License:         evmArtifact.License,
	}

	guid, err := s.submitter.Submit(ctx, sub)
	if errors.Is(err, explorer.ErrAlreadyVerified) {
		out.Status = StatusVerified
		out.Reason = "already verified"
		out.URL = s.profile.AddressURL(req.Address)
		return out
	}
	if err != nil {
		return failed(out, err)
	}
	out.GUID = guid

	status, err := s.submitter.WaitForVerification(ctx, req.ChainID, guid)
	if err != nil {
		return failed(out, err)
	}
	if !status.Verified {
		return failed(out, errors.New(status.Message))
	}
	out.Status = StatusVerified
	out.URL = s.profile.AddressURL(req.Address)
	return out
}

func (s *Service) skipReason(req Request) string {
	switch {
	case s.submitter == nil && s.profile.ExplorerAPIURL == "":
		return fmt.Sprintf("network %s has no explorer API", s.profile.Name)
	case s.submitter == nil:
		return fmt.Sprintf("%s is not set", config.EnvExplorerAPIKey)
	case req.Artifact == nil || req.Artifact.EVM == nil:
		return "no build artifact"
	case len(req.Artifact.EVM.StandardJSONInput) == 0:
		return "artifact has no standard JSON input"
	default:
		return ""
	}
}

func failed(out Outcome, err error) Outcome {
	out.Status = StatusFailed
	out.Reason = err.Error()
	return out
}

// VerifyReport verifies every confirmed deployment of a run in order.
// Failures are collected; none stops the remaining requests.
func (s *Service) VerifyReport(ctx context.Context, report *deploy.Report) []Outcome {
	outcomes := make([]Outcome, 0, len(report.Results))
	for _, res := range report.Results {
		outcomes = append(outcomes, s.Verify(ctx, RequestFromResult(report.ChainID, res)))
	}
	return outcomes
}

// Summary counts outcomes by status
func Summary(outcomes []Outcome) map[Status]int {
	counts := make(map[Status]int, 3)
	for _, o := range outcomes {
		counts[o.Status]++
	}
	return counts
}
