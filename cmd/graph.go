package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/staticpack/internal/graph"
	"github.com/conneroisu/staticpack/internal/packager"
)

var graphFormat string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the bundle graph",
	Long: `Print the bundles of the bundle graph in dependency order, or the whole
graph in Graphviz DOT format.

Examples:
  staticpack graph
  staticpack graph --format dot | dot -Tsvg > graph.svg`,
	RunE: runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().StringVarP(&graphFormat, "format", "f", "text", "Output format (text, dot)")
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	g, err := graph.Load(appFs, cfg.GraphPath())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch graphFormat {
	case "dot":
		return g.WriteDOT(out)
	case "text":
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BUNDLE\tTYPE\tENV\tASSETS\tFLAGS")
		for _, b := range g.Bundles() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", b.Name, b.Type, b.Env.Context, len(b.Assets), bundleFlags(b))
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, dot)", graphFormat)
	}
}

func bundleFlags(b *graph.Bundle) string {
	var flags []string
	if packager.IsPage(b) {
		flags = append(flags, "page")
	} else if b.IsEntry {
		flags = append(flags, "entry")
	}
	if b.IsInline() {
		flags = append(flags, "inline")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}
