package main

import (
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/lookup"
	"github.com/OFFIS-RIT/kgraph/pkg/query"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"

	"github.com/spf13/cobra"
)

var (
	modeFlag      string
	documentsFlag []string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <question>",
	Short: "Print the retrieval context and metadata for a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := connect(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer d.close()

		r, err := retrieval.NewRetriever(d.graph, d.ai, d.cfg.Retrieval.RetrieverParams())
		if err != nil {
			return err
		}
		mode, err := retrieval.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		res, err := r.Retrieve(cmd.Context(), retrieval.Request{
			Question:      strings.Join(args, " "),
			Mode:          mode,
			DocumentNames: documentsFlag,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the graph and list what was used",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := connect(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer d.close()

		r, err := retrieval.NewRetriever(d.graph, d.ai, d.cfg.Retrieval.RetrieverParams())
		if err != nil {
			return err
		}
		mode, err := retrieval.ParseMode(modeFlag)
		if err != nil {
			return err
		}

		trace := query.NewQueryTrace()
		client := query.NewClient(d.ai, r, append(d.cfg.AI.QueryOptions(), query.WithTracer(trace))...)
		ans, err := client.Answer(cmd.Context(), []ai.ChatMessage{
			{Role: "user", Message: strings.Join(args, " ")},
		}, mode, documentsFlag)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"answer": ans,
			"trace":  trace.Snapshot(),
		})
	},
}

var entitiesCmd = &cobra.Command{
	Use:   "entities <id>...",
	Short: "Look up chunk, entity or community ids reported by a retrieval",
	Long: `Resolves ids to nodes, relationships, chunks and communities.

The ids are chunk ids for chunk based modes, entity element ids for
entity_vector and community element ids for global_vector.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := connect(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer d.close()

		mode, err := retrieval.ParseMode(modeFlag)
		if err != nil {
			return err
		}

		details := make([]retrieval.Detail, 0, len(args))
		for _, id := range args {
			details = append(details, retrieval.Detail{ID: id})
		}
		var nd lookup.NodeDetails
		switch mode {
		case retrieval.ModeGlobalVector:
			nd.CommunityDetails = details
		case retrieval.ModeEntityVector:
			nd.EntityDetails = details
		default:
			nd.ChunkDetails = details
		}

		svc := lookup.NewService(d.graph, lookup.ServiceParams{Local: d.cfg.Retrieval.RetrieverParams().Local})
		res, err := svc.GetEntities(cmd.Context(), mode, nd, retrieval.EntityRefs{})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	for _, c := range []*cobra.Command{retrieveCmd, askCmd, entitiesCmd} {
		c.Flags().StringVarP(&modeFlag, "mode", "m", string(retrieval.DefaultMode), "retrieval mode")
		c.Flags().StringSliceVarP(&documentsFlag, "documents", "d", nil, "restrict to these document names")
	}
}
