package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/chains/evm"
	"github.com/pendergraft/contradeploy/internal/validation"
	verification "github.com/pendergraft/contradeploy/internal/verification/domain"
)

type verifyOptions struct {
	network    string
	contract   string
	address    string
	args       []string
	jsonOutput bool
}

func createVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Request source verification for a deployed contract",
		Long: `Rebuild a catalogued contract with its resolved compiler and submit the
source to the network's block explorer.

Constructor arguments must be the literal values the contract was
deployed with, addresses included.

Needs ETHERSCAN_API_KEY and a network with an explorer API.

EXAMPLES:
  contradeploy verify --network goerli \
    --contract KmbioFactory \
    --address 0x5FbDB2315678afecb367f032d93F642f64180aa3 \
    --args 0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.network, "network", "n", "", "network (required)")
	cmd.Flags().StringVar(&opts.contract, "contract", "", "catalogued contract name (required)")
	cmd.Flags().StringVar(&opts.address, "address", "", "deployed address (required)")
	cmd.Flags().StringArrayVar(&opts.args, "args", nil, "constructor argument literal (repeatable, in order)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("network")
	_ = cmd.MarkFlagRequired("contract")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}

func runVerify(ctx context.Context, w io.Writer, opts verifyOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := loadApp()
	if err != nil {
		return err
	}

	if err := validation.ValidateAddress(opts.address); err != nil {
		return configErrorf("--address: %v", err)
	}
	profile, err := a.networks.Get(opts.network)
	if err != nil {
		return err
	}
	unit, ok := a.project.Unit(opts.contract)
	if !ok {
		return configErrorf("unknown contract %q", opts.contract)
	}
	spec, err := a.toolchain.Resolve(unit)
	if err != nil {
		return err
	}

	// The explorer API is keyed by chain id; ask the node when the
	// profile leaves it open.
	chainID := profile.ChainID
	if chainID == 0 {
		client, err := evm.Dial(ctx, profile, evm.WithLogger(a.logger))
		if err != nil {
			return dialError(profile.Name, err)
		}
		chainID = client.ChainID()
		client.Close()
	}

	artifact, err := a.builder().Build(ctx, unit, spec.Version, spec.Optimizer)
	if err != nil {
		return fmt.Errorf("building %s: %w", unit, err)
	}

	svc := verification.ForProfile(profile, a.cfg.Verification, a.logger)
	out := svc.Verify(ctx, verification.Request{
		ChainID:  chainID,
		Address:  opts.address,
		Artifact: artifact,
		Args:     opts.args,
	})

	if opts.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printVerification(w, []verification.Outcome{out})
	}

	if out.Status == verification.StatusFailed {
		return fmt.Errorf("verification of %s failed: %s", opts.contract, out.Reason)
	}
	return nil
}
