//go:build integration

package graphdbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	neo4jImage    = "neo4j:5.26"
	neo4jPassword = "kgraph-test-password"
)

// StartNeo4j runs a Neo4j container with the Graph Data Science plugin and
// returns an Executor connected to it. The container is terminated when the
// test ends.
func StartNeo4j(ctx context.Context, t *testing.T) *graphdb.Executor {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        neo4jImage,
		ExposedPorts: []string{"7687/tcp", "7474/tcp"},
		Env: map[string]string{
			"NEO4J_AUTH":    "neo4j/" + neo4jPassword,
			"NEO4J_PLUGINS": `["graph-data-science"]`,
			"NEO4J_dbms_security_procedures_unrestricted": "gds.*",
			"NEO4J_server_memory_heap_max__size":          "1G",
		},
		// The plugin is downloaded on first start.
		WaitingFor: wait.ForLog("Started.").WithStartupTimeout(5 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "7687/tcp")
	require.NoError(t, err)

	exec, err := graphdb.NewExecutor(fmt.Sprintf("bolt://%s:%s", host, port.Port()), "neo4j", neo4jPassword, "neo4j")
	require.NoError(t, err)
	require.NoError(t, exec.Verify(ctx))
	t.Cleanup(func() {
		_ = exec.Close(context.Background())
	})
	return exec
}

// Exec runs every statement in order and fails the test on the first error.
func Exec(ctx context.Context, t *testing.T, runner graphdb.Runner, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		_, err := runner.Run(ctx, stmt, nil)
		require.NoError(t, err, stmt)
	}
}

// AwaitIndexes blocks until every index is online.
func AwaitIndexes(ctx context.Context, t *testing.T, runner graphdb.Runner) {
	t.Helper()
	_, err := runner.Run(ctx, "CALL db.awaitIndexes(120)", nil)
	require.NoError(t, err)
}
