package community

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb/graphdbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorIndexDDL(t *testing.T) {
	ddl, err := CommunityVectorIndex.ddl(768)
	require.NoError(t, err)
	assert.Contains(t, ddl, "CREATE VECTOR INDEX community_vector IF NOT EXISTS FOR (n:__Community__) ON n.embedding")
	assert.Contains(t, ddl, "`vector.dimensions`: 768")
	assert.Contains(t, ddl, "'cosine'")

	_, err = VectorIndex{Name: "bad name", Label: "X", Property: "p"}.ddl(3)
	assert.Error(t, err)
	_, err = EntityVectorIndex.ddl(0)
	assert.Error(t, err)
}

func TestFulltextIndexDDL(t *testing.T) {
	ddl, err := CommunityKeywordIndex.ddl()
	require.NoError(t, err)
	assert.Equal(t, "CREATE FULLTEXT INDEX community_keyword IF NOT EXISTS FOR (n:__Community__) ON EACH [n.summary]", ddl)

	_, err = FulltextIndex{Name: "x", Label: "Y", Properties: []string{"a;b"}}.ddl()
	assert.Error(t, err)
}

func TestRebuildDropsBeforeCreate(t *testing.T) {
	runner := graphdbtest.NewRunner()
	failures := NewIndexBuilder(runner, 0).Rebuild(context.Background())
	require.Empty(t, failures)

	calls := runner.Calls()
	require.Len(t, calls, 6)
	assert.Equal(t, "DROP INDEX entity_vector IF EXISTS", calls[0].Query)
	assert.Contains(t, calls[1].Query, "CREATE VECTOR INDEX entity_vector")
	assert.Contains(t, calls[1].Query, "`vector.dimensions`: 384")
	assert.Equal(t, "DROP INDEX community_vector IF EXISTS", calls[2].Query)
	assert.Equal(t, "DROP INDEX community_keyword IF EXISTS", calls[4].Query)
	assert.Contains(t, calls[5].Query, "CREATE FULLTEXT INDEX community_keyword")
}

func TestRebuildFailureIsLocal(t *testing.T) {
	runner := graphdbtest.NewRunner().Fails("CREATE VECTOR INDEX entity_vector", errors.New("unsupported"))
	failures := NewIndexBuilder(runner, 16).Rebuild(context.Background())

	require.Len(t, failures, 1)
	assert.Equal(t, "index_entity_vector", failures[0].Stage)
	assert.Len(t, runner.CallsMatching("CREATE VECTOR INDEX community_vector"), 1)
	assert.Len(t, runner.CallsMatching("CREATE FULLTEXT INDEX"), 1)
}
