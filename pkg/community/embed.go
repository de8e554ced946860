package community

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/workerpool"
)

const defaultEmbedBatchSize = 100

const pendingEmbeddingsQuery = `
MATCH (c:__Community__)
WHERE c.embedding IS NULL AND c.summary IS NOT NULL
RETURN c.id AS community_id, c.summary AS text
ORDER BY c.level, c.id
`

const writeEmbeddingsQuery = `
UNWIND $rows AS row
MATCH (c:__Community__ {id: row.community_id})
CALL db.create.setNodeVectorProperty(c, 'embedding', row.embedding)
`

type embedRow struct {
	id   string
	text string
}

// EmbedReport counts the outcome of one embedding run.
type EmbedReport struct {
	Pending       int `json:"pending"`
	Written       int `json:"written"`
	FailedRows    int `json:"failed_rows"`
	FailedBatches int `json:"failed_batches"`
}

// Embedder stores a summary embedding on every community that has a summary
// but no embedding yet.
type Embedder struct {
	runner    graphdb.Runner
	client    ai.GraphAIClient
	batchSize int
	workers   int
	log       *logger.Logger
}

type EmbedderParams struct {
	BatchSize int
	Workers   int
	Logger    *logger.Logger
}

func NewEmbedder(runner graphdb.Runner, client ai.GraphAIClient, params EmbedderParams) *Embedder {
	if params.BatchSize <= 0 {
		params.BatchSize = defaultEmbedBatchSize
	}
	if params.Workers <= 0 {
		params.Workers = defaultSummaryWorkers
	}
	if params.Logger == nil {
		params.Logger = logger.With("component", "embed")
	}
	return &Embedder{
		runner:    runner,
		client:    client,
		batchSize: params.BatchSize,
		workers:   params.Workers,
		log:       params.Logger,
	}
}

// Run embeds pending summaries batch by batch. A row whose embedding fails is
// left without one; a batch whose write fails is skipped. Neither is retried.
func (e *Embedder) Run(ctx context.Context) (EmbedReport, error) {
	var report EmbedReport

	res, err := e.runner.Run(ctx, pendingEmbeddingsQuery, nil)
	if err != nil {
		return report, fmt.Errorf("failed to fetch communities to embed: %w", err)
	}
	rows := make([]embedRow, 0, len(res.Records))
	for _, rec := range res.Records {
		rows = append(rows, embedRow{
			id:   graphdb.String(rec, "community_id"),
			text: graphdb.String(rec, "text"),
		})
	}
	report.Pending = len(rows)
	e.log.Info("[Embed] Fetched communities", "count", len(rows))

	_ = chunkRange(len(rows), e.batchSize, func(start, end int) error {
		batch := rows[start:end]
		results := workerpool.Run(ctx, e.workers, batch, func(ctx context.Context, row embedRow) ([]float32, error) {
			return e.client.GenerateEmbedding(ctx, []byte(row.text))
		})

		params := make([]map[string]any, 0, len(batch))
		for _, r := range results {
			if r.Err != nil || len(r.Value) == 0 {
				report.FailedRows++
				e.log.Error("[Embed] Failed to embed community", "community", batch[r.Index].id, "err", r.Err)
				continue
			}
			params = append(params, map[string]any{
				"community_id": batch[r.Index].id,
				"embedding":    toFloat64(r.Value),
			})
		}
		if len(params) == 0 {
			return nil
		}

		if _, err := e.runner.Run(ctx, writeEmbeddingsQuery, map[string]any{"rows": params}); err != nil {
			report.FailedBatches++
			e.log.Error("[Embed] Failed to write embeddings", "batch_start", start, "rows", len(params), "err", err)
			return nil
		}
		report.Written += len(params)
		e.log.Debug("[Embed] Wrote embeddings", "batch_start", start, "rows", len(params))
		return nil
	})

	return report, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
