package community

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kgraph/pkg/graphdb/graphdbtest"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRows(n int) []*neo4j.Record {
	recs := make([]*neo4j.Record, n)
	for i := range n {
		recs[i] = graphdbtest.Record("community_id", fmt.Sprintf("0-%d", i), "text", fmt.Sprintf("summary %d", i))
	}
	return recs
}

func TestEmbedderBatchesAndSkipsFailedRows(t *testing.T) {
	runner := graphdbtest.NewRunner().Returns("c.embedding IS NULL", pendingRows(5)...)
	client := &aitest.Client{
		Dimensions: 3,
		Embed: func(_ context.Context, input string) ([]float32, error) {
			if input == "summary 3" {
				return nil, errors.New("embedding backend down")
			}
			return []float32{0.1, 0.2, 0.3}, nil
		},
	}

	report, err := NewEmbedder(runner, client, EmbedderParams{BatchSize: 2, Workers: 2}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, EmbedReport{Pending: 5, Written: 4, FailedRows: 1}, report)

	writes := runner.CallsMatching("setNodeVectorProperty")
	require.Len(t, writes, 3)
	written := 0
	for _, w := range writes {
		rows := w.Params["rows"].([]map[string]any)
		for _, row := range rows {
			assert.NotEqual(t, "0-3", row["community_id"])
			assert.Len(t, row["embedding"], 3)
		}
		written += len(rows)
	}
	assert.Equal(t, 4, written)
}

func TestEmbedderContinuesAfterFailedBatchWrite(t *testing.T) {
	calls := 0
	runner := graphdbtest.NewRunner().
		Returns("c.embedding IS NULL", pendingRows(4)...).
		On("setNodeVectorProperty", func(string, map[string]any) (*neo4j.EagerResult, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("deadlock")
			}
			return nil, nil
		})
	client := &aitest.Client{Dimensions: 2, Embed: func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	}}

	report, err := NewEmbedder(runner, client, EmbedderParams{BatchSize: 2, Workers: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, report.FailedBatches)
	assert.Equal(t, 2, report.Written)
}

func TestEmbedderFetchFailure(t *testing.T) {
	runner := graphdbtest.NewRunner().Fails("c.embedding IS NULL", errors.New("offline"))
	_, err := NewEmbedder(runner, &aitest.Client{}, EmbedderParams{}).Run(context.Background())
	assert.ErrorContains(t, err, "failed to fetch communities to embed")
}
