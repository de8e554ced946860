package community

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/saulfrancisco-ruizacevedo/gocypher"
)

const removeCommunitiesPropertyQuery = `
MATCH (e:__Entity__)
WHERE e.communities IS NOT NULL
REMOVE e.communities
`

// Clear deletes every community node and the label chains on entities.
func Clear(ctx context.Context, runner graphdb.Runner) error {
	logger.Info("[Community] Clearing communities")

	query, params, err := gocypher.NewQueryBuilder().
		Match(gocypher.N("c", "__Community__")).
		DetachDelete("c").
		Build()
	if err != nil {
		return fmt.Errorf("failed to build community delete query: %w", err)
	}
	if _, err := runner.Run(ctx, query, params); err != nil {
		return fmt.Errorf("failed to delete communities: %w", err)
	}

	if _, err := runner.Run(ctx, removeCommunitiesPropertyQuery, nil); err != nil {
		return fmt.Errorf("failed to remove community property: %w", err)
	}

	logger.Info("[Community] Communities cleared")
	return nil
}
