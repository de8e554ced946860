package config

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	oai "github.com/OFFIS-RIT/kgraph/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/kgraph/pkg/ai/openai"
	"github.com/OFFIS-RIT/kgraph/pkg/community"
	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/logger/console"
	"github.com/OFFIS-RIT/kgraph/pkg/query"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"
	"github.com/OFFIS-RIT/kgraph/pkg/telemetry"
)

// InitLogger installs the console logger as the process logger.
func (c Config) InitLogger() {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: c.Debug,
		JSON:  c.LogFormat == "json",
	}))
}

// InitTracing installs the logging tracer provider when TRACING_ENABLED is
// set. The returned func flushes and stops it.
func (c Config) InitTracing(service string) func(context.Context) error {
	if !c.Tracing {
		return func(context.Context) error { return nil }
	}
	return telemetry.Install(service)
}

// NewAIClient creates the chat and embedding client for the configured
// adapter. Ollama serves both from the chat URL.
func (a AI) NewAIClient() (ai.GraphAIClient, error) {
	switch a.Adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ChatModel:             a.ChatModel,
			EmbeddingModel:        a.EmbedModel,
			Dimensions:            a.EmbedDim,
			BaseURL:               a.ChatURL,
			ApiKey:                a.ChatKey,
			MaxConcurrentRequests: a.Parallel,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
		return client, nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ChatModel:             a.ChatModel,
			EmbeddingModel:        a.EmbedModel,
			Dimensions:            a.EmbedDim,
			EmbeddingURL:          a.EmbedURL,
			EmbeddingKey:          a.EmbedKey,
			ChatURL:               a.ChatURL,
			ChatKey:               a.ChatKey,
			MaxConcurrentRequests: a.Parallel,
		}), nil
	}
}

// Connect opens the Neo4j driver and waits until the server answers.
func (n Neo4j) Connect(ctx context.Context) (*graphdb.Executor, error) {
	exec, err := graphdb.NewExecutor(n.URI, n.Username, n.Password, n.Database)
	if err != nil {
		return nil, err
	}
	if err := exec.Verify(ctx); err != nil {
		_ = exec.Close(ctx)
		return nil, fmt.Errorf("neo4j not reachable at %s: %w", n.URI, err)
	}
	return exec, nil
}

// BuilderParams maps the build section onto community.BuilderParams. The lease
// client is only set when BUILD_LEASE_LOCK is on.
func (b Build) BuilderParams(runner graphdb.Runner) community.BuilderParams {
	params := community.BuilderParams{
		ProjectionName: b.Projection,
		Workers:        b.Workers,
		EmbedBatchSize: b.EmbedBatch,
		LeaseTTL:       b.LeaseTTL,

		StructuredSummaries: b.StructuredSummaries,
	}
	params.Leiden = community.DefaultLeidenParams()
	params.Leiden.MaxLevels = b.MaxLevels
	params.Leiden.MinCommunitySize = b.MinCommunitySize
	if b.LeaseLock {
		params.Lease = leaselock.New(runner)
	}
	return params
}

// QueryOptions turns the answer overrides into query options.
func (a AI) QueryOptions() []query.QueryOption {
	var opts []query.QueryOption
	if a.AnswerModel != "" {
		opts = append(opts, query.WithModel(a.AnswerModel))
	}
	if a.AnswerPrompt != "" {
		opts = append(opts, query.WithSystemPrompts(a.AnswerPrompt))
	}
	if a.AnswerThinking != "" {
		opts = append(opts, query.WithThinking(a.AnswerThinking))
	}
	if a.AnswerTemperature > 0 {
		opts = append(opts, query.WithTemperature(a.AnswerTemperature))
	}
	return opts
}

func (r Retrieval) RetrieverParams() retrieval.RetrieverParams {
	params := retrieval.DefaultRetrieverParams()
	params.TokenBudget = r.TokenBudget
	return params
}
