package retrieval

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kgraph/pkg/graphdb/graphdbtest"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetriever(t *testing.T, runner *graphdbtest.Runner) *Retriever {
	t.Helper()
	client := &aitest.Client{
		Dimensions: 2,
		Embed: func(context.Context, string) ([]float32, error) {
			return []float32{1, 0}, nil
		},
	}
	r, err := NewRetriever(runner, client, DefaultRetrieverParams())
	require.NoError(t, err)
	return r
}

// unitAt returns a vector whose cosine with [1, 0] is sim.
func unitAt(sim float64) []any {
	return []any{sim, math.Sqrt(1 - sim*sim)}
}

func TestNewRetrieverRejectsInvalidPolicy(t *testing.T) {
	params := DefaultRetrieverParams()
	params.Policy.HighThreshold = 0.1
	_, err := NewRetriever(graphdbtest.NewRunner(), &aitest.Client{}, params)
	assert.Error(t, err)
}

func TestRetrieveRejectsBadInput(t *testing.T) {
	r := newTestRetriever(t, graphdbtest.NewRunner())

	_, err := r.Retrieve(context.Background(), Request{Question: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = r.Retrieve(context.Background(), Request{Question: "q", Mode: "nope"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestGraphAugmentedExpandsBySimilarityBand(t *testing.T) {
	runner := graphdbtest.NewRunner()
	runner.Returns("MATCH (chunk)-[:HAS_ENTITY]->(e:__Entity__)", graphdbtest.Record(
		"document", "report.pdf",
		"chunks", []any{
			map[string]any{"id": "c1", "element_id": "4:c:1", "text": "Alice  met\nBob.", "score": 0.8},
			map[string]any{"id": "c2", "element_id": "4:c:2", "text": "Bob works at Acme.", "score": 0.6},
		},
		"entities", []any{
			map[string]any{"element_id": "e-low", "embedding": unitAt(0.1)},
			map[string]any{"element_id": "e-mid", "embedding": unitAt(0.5)},
			map[string]any{"element_id": "e-high", "embedding": unitAt(0.95)},
			map[string]any{"element_id": "e-bare", "embedding": nil},
			map[string]any{"element_id": "e-odd", "embedding": []any{0.5, 0.5, 0.5}},
		},
	))

	var seeds []map[string]any
	runner.On("UNWIND $seeds AS seed", func(_ string, params map[string]any) (*neo4j.EagerResult, error) {
		seeds = params["seeds"].([]map[string]any)
		assert.Equal(t, 20, params["shallow_limit"])
		assert.Equal(t, 40, params["deep_limit"])
		return graphdbtest.Result(
			graphdbtest.Record(
				"entity", map[string]any{"element_id": "e-high", "labels": []any{"__Entity__", "Person"}, "id": "Alice"},
				"nodes", []any{
					map[string]any{"element_id": "e-high", "labels": []any{"__Entity__", "Person"}, "id": "Alice"},
					map[string]any{"element_id": "e-mid", "labels": []any{"__Entity__", "Person"}, "id": "Bob"},
				},
				"rels", []any{
					map[string]any{"element_id": "r1", "type": "KNOWS", "start": "e-high", "end": "e-mid"},
				},
			),
			graphdbtest.Record(
				"entity", map[string]any{"element_id": "e-mid", "labels": []any{"__Entity__", "Person"}, "id": "Bob"},
				"nodes", []any{
					map[string]any{"element_id": "e-mid", "labels": []any{"__Entity__", "Person"}, "id": "Bob"},
					map[string]any{"element_id": "e-high", "labels": []any{"__Entity__", "Person"}, "id": "Alice"},
				},
				"rels", []any{
					map[string]any{"element_id": "r1", "type": "KNOWS", "start": "e-high", "end": "e-mid"},
				},
			),
		), nil
	})

	r := newTestRetriever(t, runner)
	res, err := r.Retrieve(context.Background(), Request{Question: "who knows Bob?"})
	require.NoError(t, err)

	bands := map[string]string{}
	for _, s := range seeds {
		bands[s["element_id"].(string)] = s["band"].(string)
	}
	assert.Equal(t, map[string]string{
		"e-low":  "shallow",
		"e-mid":  "shallow",
		"e-high": "deep",
		"e-bare": "shallow",
		"e-odd":  "none",
	}, bands)

	assert.Equal(t, ModeGraphVectorFulltext, res.Metadata.Mode)
	assert.InDelta(t, 0.7, res.Score, 1e-9)
	assert.Equal(t, []Detail{{ID: "c1", Score: 0.8}, {ID: "c2", Score: 0.6}}, res.Metadata.ChunkDetails)
	assert.Equal(t, []string{"report.pdf"}, res.Metadata.Sources)
	assert.ElementsMatch(t, []string{"e-high", "e-mid"}, res.Metadata.Entities.EntityIDs)
	assert.Equal(t, []string{"r1"}, res.Metadata.Entities.RelationshipIDs)

	assert.Contains(t, res.Text, "Text Content:\nAlice met Bob.\nBob works at Acme.")
	assert.Contains(t, res.Text, "Person:Alice")
	assert.Contains(t, res.Text, "Relationships:\nAlice KNOWS Bob")
}

func TestGraphAugmentedDocumentFilterParam(t *testing.T) {
	runner := graphdbtest.NewRunner()
	r := newTestRetriever(t, runner)

	_, err := r.Retrieve(context.Background(), Request{Question: "q", Mode: ModeGraphVector})
	require.NoError(t, err)

	calls := runner.CallsMatching("$document_names")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{}, calls[0].Params["document_names"])
	assert.Empty(t, runner.CallsMatching("UNWIND $seeds"))
}

func TestLocalCommunityContext(t *testing.T) {
	runner := graphdbtest.NewRunner()
	runner.On("LIMIT $top_outside", func(_ string, params map[string]any) (*neo4j.EagerResult, error) {
		assert.Equal(t, "entity_vector", params["index"])
		assert.Equal(t, 10, params["top_k"])
		assert.Equal(t, 3, params["top_chunks"])
		assert.Equal(t, 3, params["top_communities"])
		assert.Equal(t, 10, params["top_outside"])
		return graphdbtest.Result(graphdbtest.Record(
			"score", 0.87,
			"metadata", []any{map[string]any{"id": "4:e:A", "score": 0.87}},
			"chunks", []any{
				map[string]any{"id": "c1", "element_id": "4:c:1", "text": "A founded B.", "document": "a.txt"},
			},
			"communities", []any{
				map[string]any{"id": "0-1", "element_id": "4:k:1", "summary": "A and its companies."},
			},
			"entities", []any{
				map[string]any{"element_id": "4:e:A", "labels": []any{"__Entity__", "Person"}, "id": "A", "description": "founder"},
			},
			"relationships", []any{},
			"outside_entities", []any{
				map[string]any{"element_id": "4:e:B", "labels": []any{"__Entity__", "Company"}, "id": "B"},
			},
			"outside_relationships", []any{
				map[string]any{"element_id": "r9", "type": "FOUNDED", "start_id": "A", "end_id": "B"},
			},
		)), nil
	})

	r := newTestRetriever(t, runner)
	res, err := r.Retrieve(context.Background(), Request{Question: "who is A?", Mode: ModeEntityVector})
	require.NoError(t, err)

	assert.Equal(t, []Detail{{ID: "4:e:A", Score: 0.87}}, res.Metadata.EntityDetails)
	assert.Equal(t, []Detail{{ID: "c1", Score: 0.87}}, res.Metadata.ChunkDetails)
	assert.Equal(t, []Detail{{ID: "4:k:1", Score: 0.87}}, res.Metadata.CommunityDetails)
	assert.Equal(t, []string{"4:e:A", "4:e:B"}, res.Metadata.Entities.EntityIDs)
	assert.InDelta(t, 0.87, res.Score, 1e-9)

	assert.Equal(t, "Chunks:\nA founded B.\n----\n"+
		"Reports:\nA and its companies.\n----\n"+
		"Entities:\nPerson:A founder\n----\n"+
		"Relationships:\n\n----\n"+
		"Outside Entities:\nCompany:B\n----\n"+
		"Outside Relationships:\nA FOUNDED B", res.Text)
}

func TestLocalCommunityWithoutMatches(t *testing.T) {
	runner := graphdbtest.NewRunner()
	runner.Returns("LIMIT $top_outside", graphdbtest.Record("score", nil, "entities", []any{}))

	r := newTestRetriever(t, runner)
	res, err := r.Retrieve(context.Background(), Request{Question: "q", Mode: ModeEntityVector})
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Empty(t, res.Metadata.EntityDetails)
}

func TestGlobalCommunitySummaries(t *testing.T) {
	runner := graphdbtest.NewRunner()
	runner.Returns("node.title AS title",
		graphdbtest.Record("element_id", "4:k:1", "id", "1-0", "title", "Founders", "summary", "Founders of Acme.", "score", 1.0),
		graphdbtest.Record("element_id", "4:k:2", "id", "0-3", "title", "", "summary", "Acme staff.", "score", 0.5),
		graphdbtest.Record("element_id", "4:k:1", "id", "1-0", "title", "Founders", "summary", "Founders of Acme.", "score", 0.9),
	)

	r := newTestRetriever(t, runner)
	res, err := r.Retrieve(context.Background(), Request{Question: "overview", Mode: ModeGlobalVector})
	require.NoError(t, err)

	assert.Equal(t, "Founders: Founders of Acme.\n----\nAcme staff.", res.Text)
	assert.InDelta(t, 0.75, res.Score, 1e-9)
	assert.Equal(t, []Detail{{ID: "4:k:1", Score: 1.0}, {ID: "4:k:2", Score: 0.5}}, res.Metadata.CommunityDetails)

	call := runner.CallsMatching("node.title AS title")[0]
	assert.Equal(t, "community_vector", call.Params["index"])
	assert.Equal(t, "community_keyword", call.Params["keyword_index"])
}

func TestPlainVectorChunks(t *testing.T) {
	runner := graphdbtest.NewRunner()
	runner.Returns("node.text AS text",
		graphdbtest.Record("id", "c1", "element_id", "4:c:1", "text", "one", "document", "a.txt", "score", 0.9),
		graphdbtest.Record("id", "c2", "element_id", "4:c:2", "text", "two", "document", "b.txt", "score", 0.7),
		graphdbtest.Record("id", "c1", "element_id", "4:c:1", "text", "one", "document", "a.txt", "score", 0.9),
	)

	r := newTestRetriever(t, runner)
	res, err := r.Retrieve(context.Background(), Request{
		Question:      "numbers",
		Mode:          ModeVector,
		DocumentNames: []string{"a.txt", "b.txt"},
	})
	require.NoError(t, err)

	assert.Equal(t, "one\n----\ntwo", res.Text)
	assert.InDelta(t, 0.8, res.Score, 1e-9)
	assert.Equal(t, []string{"a.txt", "b.txt"}, res.Metadata.Sources)
	assert.Equal(t, []string{}, res.Metadata.Entities.EntityIDs)

	call := runner.CallsMatching("node.text AS text")[0]
	assert.Equal(t, []string{"a.txt", "b.txt"}, call.Params["document_names"])
	assert.Equal(t, 0.5, call.Params["score_threshold"])
	assert.Equal(t, 5, call.Params["top_k"])
}

func TestTokenBudgetTruncatesContext(t *testing.T) {
	runner := graphdbtest.NewRunner()
	runner.Returns("node.text AS text",
		graphdbtest.Record("id", "c1", "element_id", "4:c:1", "text", strings.Repeat("token ", 500), "document", "a.txt", "score", 0.9),
	)
	params := DefaultRetrieverParams()
	params.TokenBudget = 10
	r, err := NewRetriever(runner, &aitest.Client{Dimensions: 2}, params)
	require.NoError(t, err)

	res, err := r.Retrieve(context.Background(), Request{Question: "q", Mode: ModeVector})
	require.NoError(t, err)
	assert.Less(t, len(res.Text), 200)
}

func TestRetrieveReturnsQueryErrors(t *testing.T) {
	runner := graphdbtest.NewRunner().Fails("db.index", errors.New("index missing"))

	r := newTestRetriever(t, runner)
	_, err := r.Retrieve(context.Background(), Request{Question: "q", Mode: ModeVector})
	assert.ErrorContains(t, err, "index missing")
}
