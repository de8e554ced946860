// Command kgraph builds and queries the community layer of a knowledge graph
// from the shell.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/kgraph/internal/config"
	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kgraph",
	Short: "Community GraphRAG tooling for Neo4j",
	Long: `Builds the community hierarchy of an entity graph stored in Neo4j and
retrieves context from it.

Connection and model settings come from the environment (NEO4J_*, AI_*,
COMMUNITY_*, RETRIEVAL_*), optionally loaded from a .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(communitiesCmd, retrieveCmd, askCmd, entitiesCmd)
}

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type deps struct {
	cfg      config.Config
	graph    *graphdb.Executor
	ai       ai.GraphAIClient
	shutdown func(context.Context) error
}

// connect loads the configuration, installs the logger and opens Neo4j. The
// AI client is only created when withAI is set.
func connect(ctx context.Context, withAI bool) (*deps, error) {
	cfg, err := config.Load()
	cfg.InitLogger()
	if err != nil {
		return nil, err
	}

	d := &deps{cfg: cfg, shutdown: cfg.InitTracing("kgraph-cli")}
	if withAI {
		if d.ai, err = cfg.AI.NewAIClient(); err != nil {
			_ = d.shutdown(ctx)
			return nil, err
		}
	}
	if d.graph, err = cfg.Neo4j.Connect(ctx); err != nil {
		_ = d.shutdown(ctx)
		return nil, err
	}
	return d, nil
}

func (d *deps) close() {
	_ = d.graph.Close(context.Background())
	_ = d.shutdown(context.Background())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
