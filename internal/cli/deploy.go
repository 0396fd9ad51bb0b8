package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/chains/evm"
	"github.com/pendergraft/contradeploy/internal/deployments/domain"
	"github.com/pendergraft/contradeploy/internal/networks"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	verification "github.com/pendergraft/contradeploy/internal/verification/domain"
)

type deployOptions struct {
	networks  []string
	steps     []string
	verify    bool
	checkCode bool
	yes       bool
	jsonOut   bool
	parallel  int
}

func createDeployCmd() *cobra.Command {
	var opts deployOptions

	cmd := &cobra.Command{
		Use:   "deploy [plan.yaml]",
		Short: "Build and deploy contracts",
		Long: `Build and deploy the steps of a plan, in order, to one or more networks.

Steps come from a plan file or from --step flags. Each step names a
contract from the project file and its constructor arguments; an argument
written as @id (or {ref: id} in a plan file) is replaced by the address
deployed by the earlier step id.

Every step is validated and every compiler resolved before anything is
built or sent. A run halts at the first failed step; steps already
confirmed stay deployed and are reported. Several networks run
concurrently, each strictly in order.

EXAMPLES:
  # Deploy a plan file
  contradeploy deploy plan.yaml --network goerli

  # Deploy the exchange core without a plan file
  contradeploy deploy --network goerli \
    --step factory=KmbioFactory:0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061 \
    --step router=KmbioRouter:@factory,0x4200000000000000000000000000000000000006

  # Deploy to two networks, verify sources, no prompt
  contradeploy deploy plan.yaml --network goerli --network localhost --verify --yes
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var planPath string
			if len(args) == 1 {
				planPath = args[0]
			}
			return runDeploy(cmd.Context(), cmd.OutOrStdout(), planPath, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.networks, "network", "n", nil, "target network (repeatable)")
	cmd.Flags().StringArrayVar(&opts.steps, "step", nil, "step as [id=]Contract[:arg,...] (repeatable)")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "request source verification after deploying")
	cmd.Flags().BoolVar(&opts.checkCode, "check-code", false, "compare on-chain runtime code with the build")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "deploy without asking for confirmation")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "output as JSON")
	cmd.Flags().IntVar(&opts.parallel, "parallel", 0, "networks deployed at once (0 = all)")

	return cmd
}

// target is one network of a deploy invocation
type target struct {
	profile networks.Profile
	plan    *domain.Plan
	client  *evm.Client
}

func runDeploy(ctx context.Context, w io.Writer, planPath string, opts deployOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := loadApp()
	if err != nil {
		return err
	}

	steps, planNetwork, err := loadSteps(planPath, opts.steps)
	if err != nil {
		return err
	}
	names := opts.networks
	if len(names) == 0 && planNetwork != "" {
		names = []string{planNetwork}
	}

	targets, err := planTargets(a, names, steps, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i := range targets {
		client, err := evm.Dial(ctx, targets[i].profile,
			evm.WithLogger(a.logger.With("network", targets[i].profile.Name)),
			evm.WithPollInterval(a.cfg.Confirmation.PollInterval, 30*time.Second),
		)
		if err != nil {
			closeTargets(targets)
			return dialError(targets[i].profile.Name, err)
		}
		targets[i].client = client
	}
	defer closeTargets(targets)

	if !opts.jsonOut {
		printPlans(w, targets)
	}
	if !opts.yes {
		ok, err := confirm(os.Stdin, os.Stderr, "Deploy?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(w, "Aborted.")
			return nil
		}
	}

	journal, err := a.openJournal(ctx)
	if err != nil {
		a.logger.Warn("journal unavailable; continuing without it", "error", err)
	}
	if journal != nil {
		defer journal.Close()
	}

	builder := a.builder()
	jobs := make([]domain.Job, len(targets))
	for i, t := range targets {
		orchOpts := []domain.Option{
			domain.WithLogger(a.logger),
			domain.WithConfirmationTimeout(a.cfg.Confirmation.Timeout),
		}
		if journal != nil {
			orchOpts = append(orchOpts, domain.WithJournal(journal))
		}
		jobs[i] = domain.Job{
			Orchestrator: domain.NewOrchestrator(builder, t.client, orchOpts...),
			Plan:         t.plan,
		}
	}

	outcomes := domain.RunAll(ctx, jobs, opts.parallel)

	// Follow-up requests are not cut short by an interrupt that arrived
	// after the transactions were sent.
	followCtx := context.WithoutCancel(ctx)
	results := make([]deployOutput, len(outcomes))
	for i, oc := range outcomes {
		results[i] = deployOutput{Network: oc.Network, Report: oc.Report}
		if oc.Err != nil {
			results[i].Error = oc.Err.Error()
		}
		if oc.Report == nil {
			continue
		}
		if opts.checkCode {
			results[i].CodeChecks = checkCode(followCtx, targets[i].client, oc.Report)
		}
		if opts.verify {
			svc := verification.ForProfile(targets[i].profile, a.cfg.Verification, a.logger)
			results[i].Verification = svc.VerifyReport(followCtx, oc.Report)
		}
	}

	if err := metrics.Push(followCtx, a.cfg.Metrics.PushgatewayURL); err != nil {
		a.logger.Warn("metrics push failed", "error", err)
	}

	if opts.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printOutcomes(w, targets, results)
	}

	return domain.ErrorOf(outcomes)
}

// loadSteps reads steps from a plan file or from --step flags, never both.
// The plan file may name a default network.
func loadSteps(planPath string, stepFlags []string) ([]domain.Step, string, error) {
	switch {
	case planPath != "" && len(stepFlags) > 0:
		return nil, "", configErrorf("use either a plan file or --step, not both")
	case planPath != "":
		pf, err := domain.LoadPlanFile(planPath)
		if err != nil {
			return nil, "", err
		}
		return pf.Steps, pf.Network, nil
	case len(stepFlags) > 0:
		steps := make([]domain.Step, 0, len(stepFlags))
		var errs []error
		for _, s := range stepFlags {
			step, err := domain.ParseStep(s)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			steps = append(steps, step)
		}
		if err := errors.Join(errs...); err != nil {
			return nil, "", err
		}
		return steps, "", nil
	default:
		return nil, "", configErrorf("nothing to deploy: pass a plan file or --step")
	}
}

// planTargets validates the plan against every named network and reports
// all problems together. With requireCredentials the profiles must also be
// ready to submit transactions.
func planTargets(a *app, names []string, steps []domain.Step, requireCredentials bool) ([]target, error) {
	if len(names) == 0 {
		return nil, configErrorf("no network selected: pass --network (known: %v)", a.networks.Names())
	}

	seen := make(map[string]bool, len(names))
	var errs []error
	targets := make([]target, 0, len(names))
	for _, name := range names {
		if seen[name] {
			errs = append(errs, configErrorf("network %s selected twice", name))
			continue
		}
		seen[name] = true

		selectProfile := a.networks.Get
		if requireCredentials {
			selectProfile = a.networks.Select
		}
		profile, err := selectProfile(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		plan, err := domain.NewPlan(name, steps, a.project, a.toolchain)
		if err != nil {
			errs = append(errs, fmt.Errorf("network %s: %w", name, err))
			continue
		}
		targets = append(targets, target{profile: profile, plan: plan})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return targets, nil
}

// dialError reports a connection failure. A bad or publicly known signing
// key is a configuration problem, not a chain one.
func dialError(network string, err error) error {
	if errors.Is(err, evm.ErrInvalidKey) || errors.Is(err, evm.ErrUnsafeKey) {
		return fmt.Errorf("%w: network %s: %w", domain.ErrConfiguration, network, err)
	}
	return fmt.Errorf("network %s: %w", network, err)
}

func closeTargets(targets []target) {
	for _, t := range targets {
		if t.client != nil {
			t.client.Close()
		}
	}
}

// codeCheck is the runtime code comparison for one deployed contract
type codeCheck struct {
	StepID    string `json:"stepId"`
	Address   string `json:"address"`
	Match     bool   `json:"match"`
	MatchType string `json:"matchType"`
	Message   string `json:"message"`
}

func checkCode(ctx context.Context, client *evm.Client, report *domain.Report) []codeCheck {
	checks := make([]codeCheck, 0, len(report.Results))
	for _, res := range report.Results {
		check := codeCheck{StepID: res.StepID, Address: res.Address, MatchType: "none"}
		switch {
		case res.Artifact == nil || res.Artifact.EVM == nil:
			check.Message = "no build artifact"
		default:
			code, err := client.GetDeployedBytecode(ctx, res.Address)
			if err != nil {
				check.Message = err.Error()
				break
			}
			vr := evm.CompareRuntimeCode(code, res.Artifact.EVM.DeployedBytecode, nil)
			check.Match, check.MatchType, check.Message = vr.Match, vr.MatchType, vr.Message
		}
		checks = append(checks, check)
	}
	return checks
}

// deployOutput is the per-network result of a deploy invocation
type deployOutput struct {
	Network      string                 `json:"network"`
	Report       *domain.Report         `json:"report,omitempty"`
	Error        string                 `json:"error,omitempty"`
	CodeChecks   []codeCheck            `json:"codeChecks,omitempty"`
	Verification []verification.Outcome `json:"verification,omitempty"`
}

func printPlans(w io.Writer, targets []target) {
	for _, t := range targets {
		deployer := t.client.From()
		if deployer == "" {
			deployer = "node account"
		}
		fmt.Fprintf(w, "📋 %s (chain %d) as %s\n", t.profile.Name, t.client.ChainID(), deployer)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for i, ps := range t.plan.Steps {
			fmt.Fprintf(tw, "   %d.\t%s\t%s\tsolc %s\n", i+1, ps.Step, ps.Unit, ps.Compiler)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}
}

func printOutcomes(w io.Writer, targets []target, results []deployOutput) {
	for i, out := range results {
		profile := targets[i].profile
		report := out.Report
		planned := len(targets[i].plan.Steps)

		switch {
		case report == nil:
			fmt.Fprintf(w, "❌ %s: %s\n", out.Network, out.Error)
			continue
		case report.Succeeded():
			fmt.Fprintf(w, "✅ %s: %d/%d steps confirmed (run %s)\n", out.Network, len(report.Results), planned, report.RunID)
		case report.Aborted:
			fmt.Fprintf(w, "⚠️  %s: aborted after %d/%d steps (run %s)\n", out.Network, len(report.Results), planned, report.RunID)
		default:
			fmt.Fprintf(w, "❌ %s: %d/%d steps confirmed (run %s)\n", out.Network, len(report.Results), planned, report.RunID)
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, res := range report.Results {
			link := profile.AddressURL(res.Address)
			fmt.Fprintf(tw, "   ✓ %s\t%s\t%s\t%s\n", res.StepID, res.Contract, res.Address, link)
		}
		tw.Flush()

		if f := report.Failure; f != nil {
			fmt.Fprintf(w, "   ✗ %s\n", f.Error())
			if f.TxHash != "" {
				fmt.Fprintf(w, "     transaction %s was sent; check it before re-running\n", f.TxHash)
				if link := profile.TxURL(f.TxHash); link != "" {
					fmt.Fprintf(w, "     %s\n", link)
				}
			}
		}

		for _, c := range out.CodeChecks {
			mark := "✓"
			if !c.Match {
				mark = "✗"
			}
			fmt.Fprintf(w, "   %s code %s: %s\n", mark, c.StepID, c.Message)
		}
		printVerification(w, out.Verification)
		fmt.Fprintln(w)
	}
}

func printVerification(w io.Writer, outcomes []verification.Outcome) {
	for _, v := range outcomes {
		switch v.Status {
		case verification.StatusVerified:
			fmt.Fprintf(w, "   🔎 %s verified %s\n", v.Contract, v.URL)
		case verification.StatusSkipped:
			fmt.Fprintf(w, "   ⏭️  %s verification skipped: %s\n", v.Contract, v.Reason)
		default:
			fmt.Fprintf(w, "   ⚠️  %s verification failed: %s\n", v.Contract, v.Reason)
		}
	}
}
