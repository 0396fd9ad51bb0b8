package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func createCompilersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compilers",
		Short: "Compiler toolchain commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered compiler versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompilersList(cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <Contract>...",
		Short: "Show the compiler each contract resolves to",
		Long: `Resolve the compiler for catalogued contracts from the pragmas of their
sources and local imports. The highest registered version every pragma
accepts wins; an override for the source path takes precedence.

EXAMPLES:
  contradeploy compilers resolve KmbioFactory KmbioRouter
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompilersResolve(cmd.OutOrStdout(), args)
		},
	})

	return cmd
}

func runCompilersList(w io.Writer) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	specs := a.toolchain.Compilers()
	if len(specs) == 0 {
		fmt.Fprintln(w, "No compilers registered")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Add versions under [solidity] compilers in the project file.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tOPTIMIZER\tRUNS")
	for _, s := range specs {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", s.Version, onOff(s.Optimizer.Enabled), s.Optimizer.Runs)
	}
	tw.Flush()

	overrides := a.toolchain.Overrides()
	if len(overrides) > 0 {
		paths := make([]string, 0, len(overrides))
		for p := range overrides {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		fmt.Fprintln(w)
		fmt.Fprintln(w, "Overrides:")
		for _, p := range paths {
			fmt.Fprintf(w, "  %s -> %s\n", p, overrides[p])
		}
	}
	return nil
}

func runCompilersResolve(w io.Writer, contracts []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	var failed error
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, name := range contracts {
		unit, ok := a.project.Unit(name)
		if !ok {
			fmt.Fprintf(tw, "✗ %s\tnot in the project catalog\t\n", name)
			failed = configErrorf("unknown contract %q", name)
			continue
		}
		spec, err := a.toolchain.Resolve(unit)
		if err != nil {
			fmt.Fprintf(tw, "✗ %s\t%s\t%v\n", name, unit, err)
			failed = err
			continue
		}
		fmt.Fprintf(tw, "✓ %s\t%s\t%s\n", name, unit, spec)
	}
	tw.Flush()
	return failed
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
