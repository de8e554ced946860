package leaselock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb/graphdbtest"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockStore emulates a single lock node.
type lockStore struct {
	mu     sync.Mutex
	holder string
}

func (s *lockStore) runner() *graphdbtest.Runner {
	return graphdbtest.NewRunner().
		On("MERGE (l:__BuildLock__", func(_ string, params map[string]any) (*neo4j.EagerResult, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			token := params["token"].(string)
			if s.holder == "" || s.holder == token {
				s.holder = token
			}
			return graphdbtest.Result(graphdbtest.Record("acquired", s.holder == token)), nil
		}).
		On("DETACH DELETE", func(string, map[string]any) (*neo4j.EagerResult, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.holder = ""
			return nil, nil
		}).
		On("MATCH (l:__BuildLock__ {key: $key, token: $token})", func(_ string, params map[string]any) (*neo4j.EagerResult, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.holder != params["token"] {
				return graphdbtest.Result(), nil
			}
			return graphdbtest.Result(graphdbtest.Record("key", params["key"])), nil
		})
}

func TestAcquireAndRelease(t *testing.T) {
	store := &lockStore{}
	client := New(store.runner())

	lease, err := client.Acquire(context.Background(), "communities", Options{TTL: time.Minute, TokenPrefix: "build-"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(lease.Token, "build-"))

	_, err = client.Acquire(context.Background(), "communities", Options{TTL: time.Minute})
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, lease.Release(context.Background()))
	assert.ErrorIs(t, context.Cause(lease.Context), context.Canceled)

	again, err := client.Acquire(context.Background(), "communities", Options{TTL: time.Minute})
	require.NoError(t, err)
	require.NoError(t, again.Release(context.Background()))
}

func TestAcquireCreatesConstraintOnce(t *testing.T) {
	store := &lockStore{}
	runner := store.runner()
	client := New(runner)

	for range 2 {
		lease, err := client.Acquire(context.Background(), "k", Options{})
		require.NoError(t, err)
		require.NoError(t, lease.Release(context.Background()))
	}
	assert.Len(t, runner.CallsMatching("CREATE CONSTRAINT"), 1)
}

func TestRenewLossCancelsLease(t *testing.T) {
	store := &lockStore{}
	client := New(store.runner())

	lease, err := client.Acquire(context.Background(), "k", Options{TTL: 2 * time.Second, RenewEvery: 20 * time.Millisecond})
	require.NoError(t, err)

	store.mu.Lock()
	store.holder = "someone-else"
	store.mu.Unlock()

	select {
	case <-lease.Context.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("lease context was not cancelled")
	}
	assert.ErrorIs(t, context.Cause(lease.Context), ErrLost)
}

func TestWithLeaseReleases(t *testing.T) {
	store := &lockStore{}
	client := New(store.runner())

	boom := errors.New("boom")
	err := client.WithLease(context.Background(), "k", Options{}, func(ctx context.Context) error {
		require.NoError(t, ctx.Err())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.holder)
}

func TestAcquireEmptyKey(t *testing.T) {
	_, err := New(graphdbtest.NewRunner()).Acquire(context.Background(), "", Options{})
	assert.Error(t, err)
}
