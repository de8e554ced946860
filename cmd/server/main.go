package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/kgraph/internal/config"
	"github.com/OFFIS-RIT/kgraph/internal/queue"
	"github.com/OFFIS-RIT/kgraph/internal/server"
	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/lookup"
	"github.com/OFFIS-RIT/kgraph/pkg/query"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	cfg.InitLogger()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	shutdownTracing := cfg.InitTracing("kgraph-server")
	defer shutdownTracing(context.Background())

	aiClient, err := cfg.AI.NewAIClient()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	graph, err := cfg.Neo4j.Connect(ctx)
	if err != nil {
		logger.Fatal("Unable to connect to Neo4j", "err", err)
	}
	defer graph.Close(context.Background())

	retrieverParams := cfg.Retrieval.RetrieverParams()
	retriever, err := retrieval.NewRetriever(graph, aiClient, retrieverParams)
	if err != nil {
		logger.Fatal("Invalid retrieval settings", "err", err)
	}

	que := queue.Init(cfg.Queue.URL())
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.BuildQueue); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	e := server.New(&middleware.App{
		Answerer:  query.NewClient(aiClient, retriever, cfg.AI.QueryOptions()...),
		Retriever: retriever,
		Lookup:    lookup.NewService(graph, lookup.ServiceParams{Local: retrieverParams.Local}),
		Builds:    queue.NewProducer(ch),
	})

	server.Run(ctx, e, cfg.Server.Port)
}
