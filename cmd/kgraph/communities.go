package main

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/community"

	"github.com/spf13/cobra"
)

var communitiesCmd = &cobra.Command{
	Use:   "communities",
	Short: "Build or clear the community hierarchy",
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild communities, summaries, embeddings and indexes",
	Long: `Clears existing communities and rebuilds them:

1. Projects the entity graph into GDS
2. Runs hierarchical Leiden and writes community ids
3. Creates community levels and their metrics
4. Summarizes communities bottom-up
5. Embeds summaries and rebuilds the vector and fulltext indexes`,
	RunE: runBuild,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all communities and community ids on entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := connect(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer d.close()

		if err := community.Clear(cmd.Context(), d.graph); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Communities cleared")
		return nil
	},
}

var buildMaxLevels int

func init() {
	buildCmd.Flags().IntVar(&buildMaxLevels, "max-levels", community.DefaultLeidenParams().MaxLevels, "maximum Leiden levels, overrides COMMUNITY_MAX_LEVELS")
	communitiesCmd.AddCommand(buildCmd, clearCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	d, err := connect(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer d.close()

	params := d.cfg.Build.BuilderParams(d.graph)
	if cmd.Flags().Changed("max-levels") {
		params.Leiden.MaxLevels = buildMaxLevels
	}

	builder, err := community.NewBuilder(d.graph, d.ai, params)
	if err != nil {
		return err
	}
	report, err := builder.Build(cmd.Context())
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Build finished")
	fmt.Fprintf(out, "  Run: %s\n", report.RunID)
	fmt.Fprintf(out, "  Communities: %d\n", report.Communities)
	fmt.Fprintf(out, "  Levels: %d\n", report.Levels)
	fmt.Fprintf(out, "  Summaries: %d leaves, %d parents\n", report.Summaries.Leaves, report.Summaries.Parents)
	fmt.Fprintf(out, "  Embeddings: %d\n", report.Embeddings.Written)
	fmt.Fprintf(out, "  Duration: %s\n", report.Duration.Round(time.Second))
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  Failed stage %s: %s\n", f.Stage, f.Error)
	}
	return err
}
