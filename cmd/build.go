package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/staticpack/internal/packager"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Render every page bundle into the dist directory",
	Long: `Render every entry page bundle of the bundle graph. Each page is written
as <name>.html, the document with its payload injected, and <name>.rsc, the
payload alone. A failing page does not stop the others; all failures are
reported at the end.

Examples:
  staticpack build
  staticpack build --dist public --concurrency 8`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().String("dist", "dist", "Output directory")
	buildCmd.Flags().Int("concurrency", 32, "Maximum concurrent artifact fetches")

	bindFlags(buildCmd.Flags(), map[string]string{
		"dist":        "build.dist_dir",
		"concurrency": "build.concurrency",
	})
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	p, err := packager.Open(cfg, appFs, logger)
	if err != nil {
		return err
	}

	result, err := p.Build(cmd.Context(), appFs, cfg.DistPath())
	if result != nil {
		out := cmd.OutOrStdout()
		for _, file := range result.Files {
			fmt.Fprintf(out, "  %s\n", file)
		}
		fmt.Fprintf(out, "Built %d pages into %s\n", len(result.Pages), cfg.DistPath())
	}
	return err
}
