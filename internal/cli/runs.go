package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/deployments/domain"
	"github.com/pendergraft/contradeploy/pkg/client"
)

var serverURL string

func createRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run journal",
		Long: `Inspect past deployment runs.

Runs are read from the local journal, or from a contradeploy server when
--server (or CONTRADEPLOY_SERVER) is set.`,
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "journal server URL")

	cmd.AddCommand(createRunsListCmd())
	cmd.AddCommand(createRunsShowCmd())

	return cmd
}

func createRunsListCmd() *cobra.Command {
	var opts client.ListRunsOptions
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Long: `List deployment runs, newest first.

EXAMPLES:
  contradeploy runs list
  contradeploy runs list --network goerli --status failed
  contradeploy runs list --server http://journal.internal:8080
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsList(cmd.Context(), cmd.OutOrStdout(), opts, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&opts.Network, "network", "", "filter by network")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (running, succeeded, failed, aborted)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of runs to show")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "continue after this run id")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createRunsShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and the state of each step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsShow(cmd.Context(), cmd.OutOrStdout(), args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

// getServer returns the journal server from the flag or the environment.
// An empty result means the local journal.
func getServer() string {
	if serverURL != "" {
		return serverURL
	}
	return os.Getenv("CONTRADEPLOY_SERVER")
}

// runsSource reads runs from the local journal or a server
type runsSource interface {
	ListRuns(ctx context.Context, opts client.ListRunsOptions) (*client.ListRunsResponse, error)
	GetRun(ctx context.Context, id string) (*client.RunDetail, error)
}

func openRunsSource(ctx context.Context) (runsSource, func(), error) {
	if s := getServer(); s != "" {
		return client.New(s), func() {}, nil
	}

	a, err := loadApp()
	if err != nil {
		return nil, nil, err
	}
	store, err := a.openJournal(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, configErrorf("the journal is disabled (JOURNAL_TYPE=none); pass --server to read a remote one")
	}
	svc := domain.LoggingMiddleware(a.logger)(domain.NewService(store))
	return &localRuns{svc: svc}, func() { store.Close() }, nil
}

func runRunsList(ctx context.Context, w io.Writer, opts client.ListRunsOptions, jsonOutput bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	src, closeFn, err := openRunsSource(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	resp, err := src.ListRuns(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	printRunList(w, resp)
	return nil
}

func runRunsShow(ctx context.Context, w io.Writer, id string, jsonOutput bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	src, closeFn, err := openRunsSource(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	run, err := src.GetRun(ctx, id)
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	printRunDetail(w, run)
	return nil
}

func printRunList(w io.Writer, resp *client.ListRunsResponse) {
	if len(resp.Data) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNETWORK\tCHAIN\tSTATUS\tSTEPS\tSTARTED")
	for _, r := range resp.Data {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s %s\t%d\t%s\n",
			r.ID, r.Network, r.ChainID, statusIcon(r.Status), r.Status, r.StepCount, r.StartedAt.Local().Format(time.DateTime))
	}
	tw.Flush()

	if resp.Pagination.HasMore {
		fmt.Fprintf(w, "\n(showing %d runs, more with --cursor %s)\n", len(resp.Data), resp.Pagination.NextCursor)
	}
}

func printRunDetail(w io.Writer, run *client.RunDetail) {
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Network:  %s (chain %d)\n", run.Network, run.ChainID)
	if run.Deployer != "" {
		fmt.Fprintf(w, "Deployer: %s\n", run.Deployer)
	}
	fmt.Fprintf(w, "Status:   %s %s\n", statusIcon(run.Status), run.Status)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "Finished: %s (%s)\n", run.FinishedAt.Local().Format(time.DateTime), run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTEP\tCONTRACT\tSTATE\tADDRESS\tTX")
	for _, s := range run.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", s.Index+1, s.StepID, s.Contract, s.State, dash(s.Address), dash(s.TxHash))
	}
	tw.Flush()

	for _, s := range run.Steps {
		if s.Error != "" {
			fmt.Fprintf(w, "\n✗ %s: %s\n", s.StepID, s.Error)
		}
	}
}

func statusIcon(status string) string {
	switch status {
	case "succeeded":
		return "✅"
	case "failed":
		return "❌"
	case "aborted":
		return "⚠️"
	default:
		return "⏳"
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// localRuns adapts the history service to the client types
type localRuns struct {
	svc domain.Service
}

func (l *localRuns) ListRuns(ctx context.Context, opts client.ListRunsOptions) (*client.ListRunsResponse, error) {
	res, err := l.svc.List(ctx,
		domain.ListFilter{Network: opts.Network, Status: opts.Status},
		domain.PaginationParams{Limit: opts.Limit, Cursor: opts.Cursor},
	)
	if err != nil {
		return nil, err
	}
	resp := &client.ListRunsResponse{
		Data:       make([]client.Run, 0, len(res.Runs)),
		Pagination: client.Pagination{Limit: opts.Limit, HasMore: res.HasMore, NextCursor: res.NextCursor},
	}
	for _, r := range res.Runs {
		resp.Data = append(resp.Data, toClientRun(r))
	}
	return resp, nil
}

func (l *localRuns) GetRun(ctx context.Context, id string) (*client.RunDetail, error) {
	d, err := l.svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &client.RunDetail{Run: toClientRun(d.RunSummary)}
	for _, s := range d.StepRecords {
		detail.Steps = append(detail.Steps, client.Step{
			Index:       s.Index,
			StepID:      s.StepID,
			Contract:    s.Contract,
			State:       string(s.State),
			Compiler:    s.Compiler,
			Args:        s.Args,
			TxHash:      s.TxHash,
			Address:     s.Address,
			BlockNumber: s.BlockNumber,
			Error:       s.Error,
			UpdatedAt:   s.UpdatedAt,
		})
	}
	return detail, nil
}

func toClientRun(r domain.RunSummary) client.Run {
	return client.Run{
		ID:         r.ID,
		Network:    r.Network,
		ChainID:    r.ChainID,
		Deployer:   r.Deployer,
		Status:     r.Status,
		StepCount:  r.Steps,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
