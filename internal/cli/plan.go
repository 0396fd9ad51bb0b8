package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func createPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Deployment plan commands",
	}

	cmd.AddCommand(createPlanValidateCmd())

	return cmd
}

func createPlanValidateCmd() *cobra.Command {
	var networkNames []string
	var steps []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate [plan.yaml]",
		Short: "Check a plan without building or sending anything",
		Long: `Validate a plan against the project file and resolve the compiler for
every step. Nothing is compiled and no network is contacted; missing
credentials are reported as warnings.

EXAMPLES:
  contradeploy plan validate plan.yaml --network goerli
  contradeploy plan validate --network localhost --step MasterChef:@token,100
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var planPath string
			if len(args) == 1 {
				planPath = args[0]
			}
			return runPlanValidate(cmd.OutOrStdout(), planPath, networkNames, steps, jsonOutput)
		},
	}

	cmd.Flags().StringArrayVarP(&networkNames, "network", "n", nil, "target network (repeatable)")
	cmd.Flags().StringArrayVar(&steps, "step", nil, "step as [id=]Contract[:arg,...] (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

// plannedStepOutput is one validated step
type plannedStepOutput struct {
	ID       string   `json:"id"`
	Contract string   `json:"contract"`
	Source   string   `json:"source"`
	Compiler string   `json:"compiler"`
	Args     []string `json:"args,omitempty"`
}

type planOutput struct {
	Network  string              `json:"network"`
	Steps    []plannedStepOutput `json:"steps"`
	Warnings []string            `json:"warnings,omitempty"`
}

func runPlanValidate(w io.Writer, planPath string, networkNames, stepFlags []string, jsonOutput bool) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	steps, planNetwork, err := loadSteps(planPath, stepFlags)
	if err != nil {
		return err
	}
	if len(networkNames) == 0 && planNetwork != "" {
		networkNames = []string{planNetwork}
	}

	targets, err := planTargets(a, networkNames, steps, false)
	if err != nil {
		return err
	}

	outputs := make([]planOutput, 0, len(targets))
	for _, t := range targets {
		out := planOutput{Network: t.plan.Network}
		for _, ps := range t.plan.Steps {
			args := make([]string, len(ps.Args))
			for i, arg := range ps.Args {
				args[i] = arg.String()
			}
			out.Steps = append(out.Steps, plannedStepOutput{
				ID:       ps.ID,
				Contract: ps.Contract,
				Source:   ps.Unit.String(),
				Compiler: ps.Compiler.String(),
				Args:     args,
			})
		}
		if err := t.profile.Validate(); err != nil {
			out.Warnings = append(out.Warnings, err.Error())
		}
		outputs = append(outputs, out)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outputs)
	}

	for _, out := range outputs {
		fmt.Fprintf(w, "✅ %s: %d step(s) valid\n", out.Network, len(out.Steps))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "   STEP\tCONTRACT\tSOURCE\tCOMPILER\tARGS")
		for _, s := range out.Steps {
			fmt.Fprintf(tw, "   %s\t%s\t%s\t%s\t%v\n", s.ID, s.Contract, s.Source, s.Compiler, s.Args)
		}
		tw.Flush()
		for _, warning := range out.Warnings {
			fmt.Fprintf(w, "   ⚠️  %s\n", warning)
		}
	}
	return nil
}
