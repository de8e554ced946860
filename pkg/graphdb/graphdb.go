// Package graphdb wraps the Neo4j driver behind a small query runner used by
// every store in this module.
package graphdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var ErrNoRecords = errors.New("query returned no records")

// Runner executes a Cypher statement and buffers all records.
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error)
}

// Executor is the Neo4j-backed Runner.
type Executor struct {
	Driver neo4j.DriverWithContext
	DBName string
}

// NewExecutor creates a driver for uri using basic auth. It does not connect;
// call Verify for that.
func NewExecutor(uri, username, password, dbName string) (*Executor, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create neo4j driver: %w", err)
	}
	return &Executor{Driver: driver, DBName: dbName}, nil
}

// Verify checks connectivity with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (e *Executor) Verify(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		return e.Driver.VerifyConnectivity(ctx)
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("[Neo4j] connectivity check failed", "err", err, "retry_in", next)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}

func (e *Executor) Run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(
		ctx,
		e.Driver,
		query,
		params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(e.DBName),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing neo4j query: %w", err)
	}
	return result, nil
}

func (e *Executor) Close(ctx context.Context) error {
	return e.Driver.Close(ctx)
}

// Single returns the first record of a result or ErrNoRecords.
func Single(res *neo4j.EagerResult) (*neo4j.Record, error) {
	if res == nil || len(res.Records) == 0 {
		return nil, ErrNoRecords
	}
	return res.Records[0], nil
}
