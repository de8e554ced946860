// Package leaselock provides expiring, renewable locks stored as
// __BuildLock__ nodes in Neo4j.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/saulfrancisco-ruizacevedo/gocypher"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

const lockLabel = "__BuildLock__"

type Client struct {
	runner graphdb.Runner

	constraintOnce sync.Once
	constraintErr  error
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

type Lease struct {
	Key   string
	Token string

	Context context.Context

	client *Client
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(runner graphdb.Runner) *Client {
	return &Client{runner: runner}
}

func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

func (c *Client) ensureConstraint(ctx context.Context) error {
	c.constraintOnce.Do(func() {
		_, c.constraintErr = c.runner.Run(ctx, constraintCypher, nil)
	})
	return c.constraintErr
}

func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}

	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	ttlMs := opts.TTL.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = (5 * time.Minute).Milliseconds()
	}
	if opts.RenewEvery <= 0 || opts.RenewEvery >= opts.TTL {
		opts.RenewEvery = max(opts.TTL/2, time.Second)
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = 250 * time.Millisecond
	}
	if opts.WaitJitter < 0 {
		opts.WaitJitter = 0
	}

	if err := c.ensureConstraint(ctx); err != nil {
		return nil, fmt.Errorf("failed to create lease constraint: %w", err)
	}

	tok, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + tok

	acquireOnce := func(ctx context.Context) (bool, error) {
		res, err := c.runner.Run(ctx, tryAcquireCypher, map[string]any{
			"key":    key,
			"token":  token,
			"ttl_ms": ttlMs,
		})
		if err != nil {
			return false, err
		}
		rec, err := graphdb.Single(res)
		if err != nil {
			return false, nil
		}
		return graphdb.Bool(rec, "acquired"), nil
	}

	for {
		ok, err := acquireOnce(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}

	go l.renewLoop(opts, ttlMs)

	return l, nil
}

func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})

	query, params, err := gocypher.NewQueryBuilder().
		Match(gocypher.N("l", lockLabel).WithProperties(map[string]interface{}{
			"key":   l.Key,
			"token": l.Token,
		})).
		DetachDelete("l").
		Build()
	if err != nil {
		return err
	}
	_, err = l.client.runner.Run(ctx, query, params)
	return err
}

func (l *Lease) renewLoop(opts Options, ttlMs int64) {
	t := time.NewTicker(opts.RenewEvery)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renewOnce(ttlMs); err != nil {
				logger.Warn("[Lease] Lost lease", "key", l.Key, "err", err)
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renewOnce(ttlMs int64) error {
	for attempt := range 3 {
		renewCtx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		res, err := l.client.runner.Run(renewCtx, renewCypher, map[string]any{
			"key":    l.Key,
			"token":  l.Token,
			"ttl_ms": ttlMs,
		})
		cancel()
		if err == nil {
			if _, err := graphdb.Single(res); err != nil {
				return ErrLost
			}
			return nil
		}
		if attempt == 2 {
			return err
		}
		if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return ErrLost
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const constraintCypher = `CREATE CONSTRAINT IF NOT EXISTS FOR (l:__BuildLock__) REQUIRE l.key IS UNIQUE`

// The first SET takes the node write lock so the expiry check and the
// takeover happen under it.
const tryAcquireCypher = `
MERGE (l:__BuildLock__ {key: $key})
ON CREATE SET l.token = $token, l.expires_at = datetime() + duration({milliseconds: $ttl_ms})
SET l.checked_at = datetime()
WITH l, (l.expires_at < datetime() OR l.token = $token) AS free
SET l.token = CASE WHEN free THEN $token ELSE l.token END,
    l.expires_at = CASE WHEN free THEN datetime() + duration({milliseconds: $ttl_ms}) ELSE l.expires_at END
RETURN l.token = $token AS acquired
`

const renewCypher = `
MATCH (l:__BuildLock__ {key: $key, token: $token})
SET l.expires_at = datetime() + duration({milliseconds: $ttl_ms})
RETURN l.key AS key
`
