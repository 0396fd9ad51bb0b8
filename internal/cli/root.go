// Package cli implements the contradeploy command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/deployments/domain"
)

// Exit codes
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
)

var (
	cfgFile  string
	envFile  string
	logLevel string
)

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "contradeploy",
		Short: "Config-driven smart contract deployments",
		Long: `contradeploy builds, deploys and verifies Solidity contracts from a
project file and a deployment plan.

Secrets come from the environment (or a .env file):
  SIGNER_PRIV_KEY    signing key for networks that require one
  RPC_URL            endpoint for networks without a url
  ETHERSCAN_API_KEY  explorer API key for verification`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "project file (default: contradeploy.toml or cd.toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file merged under the process environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	})

	// Add subcommands
	rootCmd.AddCommand(createDeployCmd())
	rootCmd.AddCommand(createPlanCmd())
	rootCmd.AddCommand(createCompilersCmd())
	rootCmd.AddCommand(createNetworksCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createRunsCmd())
	rootCmd.AddCommand(createConfigCmd())
	rootCmd.AddCommand(createServeCmd())

	return rootCmd
}

// ExitCode maps a command error to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case domain.IsConfigurationError(err):
		return ExitConfiguration
	default:
		return ExitFailure
	}
}

// configErrorf reports invalid input; the process exits with ExitConfiguration
func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
}
