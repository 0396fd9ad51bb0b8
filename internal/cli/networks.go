package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/networks"
)

func createNetworksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "Network profile commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetworksList(cmd.OutOrStdout())
		},
	})

	var jsonOutput bool
	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a network profile with secrets masked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetworksShow(cmd.OutOrStdout(), args[0], jsonOutput)
		},
	}
	showCmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.AddCommand(showCmd)

	return cmd
}

func runNetworksList(w io.Writer) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCHAIN ID\tRPC\tSIGNER\tEXPLORER\tREADY")
	for _, name := range a.networks.Names() {
		p, err := a.networks.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Name, chainIDString(p.ChainID), p.RPCURL, signerMode(p), explorerHost(p), readiness(p))
	}
	return tw.Flush()
}

// networkView is a profile as shown to users; secrets are masked
type networkView struct {
	networks.Profile
	SigningKey     string `json:"signingKey"`
	ExplorerAPIKey string `json:"explorerApiKey"`
	Ready          bool   `json:"ready"`
	Problem        string `json:"problem,omitempty"`
}

func runNetworksShow(w io.Writer, name string, jsonOutput bool) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	p, err := a.networks.Get(name)
	if err != nil {
		return err
	}

	view := networkView{
		Profile:        p,
		SigningKey:     p.SigningKey.String(),
		ExplorerAPIKey: p.ExplorerAPIKey.String(),
		Ready:          true,
	}
	if err := p.Validate(); err != nil {
		view.Ready = false
		view.Problem = err.Error()
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintf(w, "Network:      %s\n", p.Name)
	fmt.Fprintf(w, "Chain ID:     %s\n", chainIDString(p.ChainID))
	fmt.Fprintf(w, "RPC:          %s\n", p.RPCURL)
	fmt.Fprintf(w, "Signer:       %s\n", signerMode(p))
	fmt.Fprintf(w, "Signing key:  %s\n", view.SigningKey)
	if p.ExplorerAPIURL != "" {
		fmt.Fprintf(w, "Explorer API: %s\n", p.ExplorerAPIURL)
		fmt.Fprintf(w, "Explorer key: %s\n", view.ExplorerAPIKey)
	}
	if p.ExplorerUIURL != "" {
		fmt.Fprintf(w, "Explorer:     %s\n", p.ExplorerUIURL)
	}
	if view.Ready {
		fmt.Fprintln(w, "Status:       ✅ ready")
	} else {
		fmt.Fprintf(w, "Status:       ❌ %s\n", view.Problem)
	}
	return nil
}

func chainIDString(id int64) string {
	if id == 0 {
		return "(from node)"
	}
	return fmt.Sprintf("%d", id)
}

func signerMode(p networks.Profile) string {
	switch {
	case p.HasSigner():
		return "local key"
	case p.RequiresSigner:
		return "key required"
	default:
		return "node account"
	}
}

func explorerHost(p networks.Profile) string {
	if p.ExplorerAPIURL == "" {
		return "-"
	}
	if p.ExplorerEnabled() {
		return "yes"
	}
	return "no key"
}

func readiness(p networks.Profile) string {
	if err := p.Validate(); err != nil {
		return "no"
	}
	return "yes"
}
