package lookup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb/graphdbtest"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyIDsReturnDefaultWithoutQuerying(t *testing.T) {
	runner := graphdbtest.NewRunner()
	s := NewService(runner, ServiceParams{})
	ctx := context.Background()

	for _, mode := range retrieval.Modes() {
		res, err := s.GetEntities(ctx, mode, NodeDetails{}, retrieval.EntityRefs{})
		require.NoError(t, err)
		assert.Equal(t, DefaultResponse(), res, mode)
	}
	assert.Empty(t, runner.Calls())
}

func TestChunkEntities(t *testing.T) {
	runner := graphdbtest.NewRunner()
	runner.Returns("WHERE chunk.id IN $chunksIds", graphdbtest.Record(
		"doc", neo4j.Node{Props: map[string]any{"fileSource": "local file", "fileType": "pdf", "url": ""}},
		"chunks", []any{
			map[string]any{"id": "c1", "text": "Alice\n\n knows   Bob", "embedding": nil, "element_id": "4:c:1"},
		},
		"nodes", []any{
			map[string]any{"element_id": "d", "labels": []any{"__Entity__"}, "properties": map[string]any{"id": "D"}},
			map[string]any{"element_id": "a", "labels": []any{"__Entity__", "Person"}, "properties": map[string]any{"id": "a"}},
		},
		"entities", []any{element("a", "b", "r1")},
	))

	s := NewService(runner, ServiceParams{})
	res, err := s.GetEntities(context.Background(), retrieval.ModeGraphVectorFulltext,
		NodeDetails{ChunkDetails: []retrieval.Detail{{ID: "c1", Score: 0.9}}},
		retrieval.EntityRefs{EntityIDs: []string{"a", "d"}, RelationshipIDs: []string{"r1"}},
	)
	require.NoError(t, err)

	ids := []string{}
	for _, n := range res.Nodes {
		ids = append(ids, n.ElementID)
	}
	assert.Equal(t, []string{"a", "b", "d"}, ids)
	assert.Equal(t, []string{"*"}, res.Nodes[2].Labels)
	require.Len(t, res.Relationships, 1)
	require.Len(t, res.ChunkData, 1)
	assert.Equal(t, "Alice knows Bob", res.ChunkData[0]["text"])
	assert.Equal(t, "pdf", res.ChunkData[0]["fileType"])
	assert.Equal(t, []map[string]any{}, res.CommunityData)

	call := runner.Calls()[0]
	assert.Equal(t, []string{"c1"}, call.Params["chunksIds"])
	assert.Equal(t, []string{"a", "d"}, call.Params["entityIds"])
	assert.Equal(t, []string{"r1"}, call.Params["relationshipIds"])
}

func TestChunkEntitiesPassesEmptyRefs(t *testing.T) {
	runner := graphdbtest.NewRunner()
	s := NewService(runner, ServiceParams{})

	_, err := s.ChunkEntities(context.Background(), []string{"c1"}, retrieval.EntityRefs{})
	require.NoError(t, err)
	call := runner.Calls()[0]
	assert.Equal(t, []string{}, call.Params["entityIds"])
	assert.Equal(t, []string{}, call.Params["relationshipIds"])
}

func TestEntityCommunities(t *testing.T) {
	runner := graphdbtest.NewRunner()
	runner.Returns("UNWIND $entityIds AS id", graphdbtest.Record(
		"chunks", []any{
			map[string]any{"id": "c1", "text": "A  founded\tB", "fileName": "a.txt", "embedding": nil},
		},
		"communities", []any{
			map[string]any{"id": "0-1", "summary": "About A", "embedding": nil, "element_id": "4:k:1"},
		},
		"nodes", []any{
			map[string]any{"element_id": "A", "labels": []any{"__Entity__", "Person"}, "properties": map[string]any{"id": "A"}},
		},
		"entities", []any{element("A", "B", "r1")},
	))

	s := NewService(runner, ServiceParams{})
	res, err := s.GetEntities(context.Background(), retrieval.ModeEntityVector,
		NodeDetails{EntityDetails: []retrieval.Detail{{ID: "A", Score: 0.8}}},
		retrieval.EntityRefs{},
	)
	require.NoError(t, err)

	assert.Len(t, res.Nodes, 2)
	assert.Len(t, res.Relationships, 1)
	assert.Equal(t, []map[string]any{{"id": "c1", "text": "A founded B", "fileName": "a.txt"}}, res.ChunkData)
	assert.Equal(t, []map[string]any{{"id": "0-1", "summary": "About A", "element_id": "4:k:1"}}, res.CommunityData)

	call := runner.Calls()[0]
	assert.Contains(t, call.Query, retrieval.LocalCommunityCore)
	assert.Equal(t, []string{"A"}, call.Params["entityIds"])
	assert.Equal(t, 3, call.Params["top_chunks"])
	assert.Equal(t, 3, call.Params["top_communities"])
	assert.Equal(t, 10, call.Params["top_outside"])
}

func TestCommunityDetails(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	runner := graphdbtest.NewRunner()
	runner.Returns("WHERE elementId(community) IN $communityIds", graphdbtest.Record(
		"communities", []any{
			map[string]any{"id": "1-0", "summary": "Top", "created": created, "embedding": nil},
		},
	))

	s := NewService(runner, ServiceParams{})
	res, err := s.GetEntities(context.Background(), retrieval.ModeGlobalVector,
		NodeDetails{CommunityDetails: []retrieval.Detail{{ID: "4:k:9", Score: 1}}},
		retrieval.EntityRefs{},
	)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": "1-0", "summary": "Top", "created": "2024-05-01T12:00:00Z"}}, res.CommunityData)
	assert.Empty(t, res.Nodes)
	assert.Equal(t, []string{"4:k:9"}, runner.Calls()[0].Params["communityIds"])
}

func TestLookupErrorsReturnDefaultAndError(t *testing.T) {
	runner := graphdbtest.NewRunner().Fails("MATCH", errors.New("database unavailable"))
	s := NewService(runner, ServiceParams{})

	res, err := s.ChunkEntities(context.Background(), []string{"c1"}, retrieval.EntityRefs{})
	assert.ErrorContains(t, err, "database unavailable")
	assert.Equal(t, DefaultResponse(), res)
}

func TestDocumentGraph(t *testing.T) {
	doc := neo4j.Node{ElementId: "d", Labels: []string{"Document"}, Props: map[string]any{
		"fileName": "a.txt", "createdAt": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
	chunk := neo4j.Node{ElementId: "c", Labels: []string{"Chunk"}, Props: map[string]any{
		"id": "c1", "text": "hidden", "embedding": []any{0.1}, "position": int64(1),
	}}
	entity := neo4j.Node{ElementId: "e", Labels: []string{"__Entity__", "Person"}, Props: map[string]any{"id": "Alice"}}
	partOf := neo4j.Relationship{ElementId: "r1", Type: "PART_OF", StartElementId: "c", EndElementId: "d"}
	mentions := neo4j.Relationship{ElementId: "r2", Type: "HAS_ENTITY", StartElementId: "c", EndElementId: "e"}

	runner := graphdbtest.NewRunner()
	runner.On("RETURN [d] + chunks + entities AS nodes", func(_ string, params map[string]any) (*neo4j.EagerResult, error) {
		assert.Equal(t, []string{}, params["document_names"])
		assert.Equal(t, 50, params["chunk_limit"])
		return graphdbtest.Result(
			graphdbtest.Record("nodes", []any{doc, chunk, entity}, "rels", []any{partOf, mentions}),
			graphdbtest.Record("nodes", []any{entity}, "rels", []any{mentions}),
		), nil
	})

	s := NewService(runner, ServiceParams{})
	g, err := s.DocumentGraph(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 3)
	assert.Equal(t, map[string]any{"fileName": "a.txt", "createdAt": "2024-01-02T03:04:05Z"}, g.Nodes[0].Properties)
	assert.Equal(t, map[string]any{"id": "c1", "position": int64(1)}, g.Nodes[1].Properties)
	assert.Equal(t, []string{"Person"}, g.Nodes[2].Labels)
	assert.Equal(t, []Relationship{
		{ElementID: "r1", Type: "PART_OF", StartNodeElementID: "c", EndNodeElementID: "d"},
		{ElementID: "r2", Type: "HAS_ENTITY", StartNodeElementID: "c", EndNodeElementID: "e"},
	}, g.Relationships)
}

func TestChunkTextPagination(t *testing.T) {
	runner := graphdbtest.NewRunner()
	runner.Returns("count(c) AS total_chunks", graphdbtest.Record("total_chunks", int64(21)))
	runner.On("SKIP $skip", func(_ string, params map[string]any) (*neo4j.EagerResult, error) {
		assert.Equal(t, 20, params["skip"])
		assert.Equal(t, 10, params["limit"])
		return graphdbtest.Result(
			graphdbtest.Record("chunk_text", "last", "chunk_position", int64(21), "page_number", int64(4)),
			graphdbtest.Record("chunk_text", "no page", "chunk_position", int64(22), "page_number", nil),
		), nil
	})

	s := NewService(runner, ServiceParams{})
	page, err := s.ChunkText(context.Background(), "a.pdf", 3)
	require.NoError(t, err)

	assert.Equal(t, int64(3), page.TotalPages)
	require.Len(t, page.PageItems, 2)
	require.NotNil(t, page.PageItems[0].PageNumber)
	assert.Equal(t, int64(4), *page.PageItems[0].PageNumber)
	assert.Nil(t, page.PageItems[1].PageNumber)
}

func TestCompletedDocuments(t *testing.T) {
	runner := graphdbtest.NewRunner()
	runner.Returns("Document",
		graphdbtest.Record("node", neo4j.Node{Props: map[string]any{"fileName": "a.pdf", "status": "Completed"}}),
		graphdbtest.Record("node", &neo4j.Node{Props: map[string]any{"fileName": "b.pdf", "status": "Completed"}}),
	)

	s := NewService(runner, ServiceParams{})
	names, err := s.CompletedDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, names)
	assert.Contains(t, runner.Calls()[0].Query, "Document")
	values := []any{}
	for _, v := range runner.Calls()[0].Params {
		values = append(values, v)
	}
	assert.Contains(t, values, "Completed")
}
