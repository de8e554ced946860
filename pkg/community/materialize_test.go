package community

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb/graphdbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLevelsWritesPlan(t *testing.T) {
	runner := graphdbtest.NewRunner().Returns("e.communities AS communities",
		graphdbtest.Record("entity", "4:a", "communities", []any{int64(2), int64(9), int64(1)}),
		graphdbtest.Record("entity", "4:b", "communities", []any{int64(2), int64(9), int64(1)}),
	)

	plan, err := NewMaterializer(runner).CreateLevels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Levels())

	nodes := runner.CallsMatching("MERGE (c:__Community__ {id: row.id})")
	require.Len(t, nodes, 1)
	assert.Equal(t, []map[string]any{
		{"id": "0-2", "level": 0},
		{"id": "1-9", "level": 1},
		{"id": "2-1", "level": 2},
	}, nodes[0].Params["rows"])

	members := runner.CallsMatching("MERGE (e)-[:IN_COMMUNITY]->(c)")
	require.Len(t, members, 1)
	assert.Len(t, members[0].Params["rows"], 2)

	links := runner.CallsMatching("MERGE (child)-[:PARENT_COMMUNITY]->(parent)")
	require.Len(t, links, 1)
	assert.Equal(t, []map[string]any{
		{"child": "0-2", "parent": "1-9"},
		{"child": "1-9", "parent": "2-1"},
	}, links[0].Params["rows"])
}

func TestCreateLevelsFailure(t *testing.T) {
	runner := graphdbtest.NewRunner().Fails("MERGE (child)", errors.New("constraint violated"))
	_, err := NewMaterializer(runner).CreateLevels(context.Background())
	assert.NoError(t, err, "no links means no link statement")

	runner = graphdbtest.NewRunner().
		Returns("e.communities AS communities", graphdbtest.Record("entity", "4:a", "communities", []any{int64(0), int64(1)})).
		Fails("MERGE (child)", errors.New("constraint violated"))
	_, err = NewMaterializer(runner).CreateLevels(context.Background())
	assert.ErrorContains(t, err, "failed to merge parent communities")
}

func TestParentMetricsAggregateLeafDescendants(t *testing.T) {
	for _, q := range []string{parentRankQuery, parentWeightQuery} {
		assert.Contains(t, q, "<-[:PARENT_COMMUNITY*]-(:__Community__ {level: 0})<-[:IN_COMMUNITY]-")
		assert.Contains(t, q, "DISTINCT")
	}
	assert.True(t, strings.Contains(leafRankQuery, "{level: 0}"))
}

func TestDeriveMetricsRunsEveryStage(t *testing.T) {
	runner := graphdbtest.NewRunner().Fails("SET c.community_rank = rank", errors.New("boom"))
	failures := NewMaterializer(runner).DeriveMetrics(context.Background())

	require.Len(t, failures, 2)
	assert.Equal(t, "community_rank", failures[0].Stage)
	assert.Equal(t, "parent_community_rank", failures[1].Stage)
	assert.Len(t, runner.Calls(), 4)
}
