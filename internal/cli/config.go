package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/config"
	"github.com/pendergraft/contradeploy/internal/deployments/domain"
)

const projectHeader = `# contradeploy project configuration
#
# [solidity]  compilers available to the build; each source resolves to the
#             highest version its pragmas accept
# [contracts] deployable contracts and their source files
# [networks]  RPC endpoint, chain id and explorer per network alias
#
# Secrets are never stored here. Set SIGNER_PRIV_KEY, RPC_URL and
# ETHERSCAN_API_KEY in the environment or in .env.

`

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var force bool
	var withPlan bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project file",
		Long: `Create contradeploy.toml in the current directory with the default
compilers, contracts and networks.

EXAMPLES:
  # Create the project file
  contradeploy config init

  # Also write an example plan.yaml
  contradeploy config init --plan

  # Overwrite existing files
  contradeploy config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), ".", force, withPlan)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	cmd.Flags().BoolVar(&withPlan, "plan", false, "also write an example plan.yaml")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the project file in effect and the environment settings, with
secrets masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}
}

func runConfigInit(w io.Writer, dir string, force, withPlan bool) error {
	configPath := dir + "/" + config.ProjectConfigFiles[0]

	if !force {
		for _, name := range config.ProjectConfigFiles {
			if _, err := os.Stat(dir + "/" + name); err == nil {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", name)
			}
		}
	}

	data, err := config.DefaultProject().Encode()
	if err != nil {
		return fmt.Errorf("encoding project: %w", err)
	}
	if err := os.WriteFile(configPath, append([]byte(projectHeader), data...), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(w, "✅ Created %s\n", configPath)

	if withPlan {
		planPath := dir + "/plan.yaml"
		if _, err := os.Stat(planPath); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", planPath)
		}
		plan, err := examplePlan().Encode()
		if err != nil {
			return fmt.Errorf("encoding plan: %w", err)
		}
		if err := os.WriteFile(planPath, plan, 0644); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
		fmt.Fprintf(w, "✅ Created %s\n", planPath)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintf(w, "  1. Edit %s to list your contracts and networks\n", configPath)
	fmt.Fprintln(w, "  2. Put SIGNER_PRIV_KEY and ETHERSCAN_API_KEY in .env")
	fmt.Fprintln(w, "  3. Run 'contradeploy plan validate plan.yaml --network localhost'")

	return nil
}

// examplePlan deploys the exchange core: the factory, then the router
// bound to it.
func examplePlan() *domain.PlanFile {
	return &domain.PlanFile{
		Network: "localhost",
		Steps: []domain.Step{
			{
				ID:       "factory",
				Contract: "KmbioFactory",
				Args:     []domain.Arg{domain.Literal("0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061")},
			},
			{
				ID:       "router",
				Contract: "KmbioRouter",
				Args: []domain.Arg{
					domain.Ref("factory"),
					domain.Literal("0x4200000000000000000000000000000000000006"),
				},
			},
		},
	}
}

func runConfigShow(w io.Writer) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Project file:")
	if a.projectPath == "" {
		fmt.Fprintln(w, "   (none found, using defaults)")
	} else {
		fmt.Fprintf(w, "   %s\n", a.projectPath)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "   %s=%s\n", config.EnvSignerPrivateKey, a.cfg.Env.SignerPrivateKey)
	fmt.Fprintf(w, "   %s=%s\n", config.EnvRPCURL, a.cfg.Env.RPCURL)
	fmt.Fprintf(w, "   %s=%s\n", config.EnvExplorerAPIKey, a.cfg.Env.ExplorerAPIKey)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Journal:")
	switch a.cfg.Journal.Type {
	case "sqlite":
		fmt.Fprintf(w, "   sqlite %s\n", a.cfg.Journal.SQLitePath)
	case "postgres":
		fmt.Fprintf(w, "   postgres %s\n", config.Mask(a.cfg.Journal.PostgresURL))
	default:
		fmt.Fprintln(w, "   disabled")
	}
	fmt.Fprintf(w, "   confirmation timeout %s, poll every %s\n", a.cfg.Confirmation.Timeout, a.cfg.Confirmation.PollInterval)
	fmt.Fprintln(w)

	data, err := a.project.Encode()
	if err != nil {
		return fmt.Errorf("encoding project: %w", err)
	}
	fmt.Fprintln(w, "Effective project:")
	fmt.Fprintln(w)
	_, err = w.Write(data)
	return err
}
