// Package graphdbtest provides an in-memory graphdb.Runner for tests.
package graphdbtest

import (
	"context"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Call is one statement seen by the fake.
type Call struct {
	Query  string
	Params map[string]any
}

// Handler answers a statement. Returning (nil, nil) yields an empty result.
type Handler func(query string, params map[string]any) (*neo4j.EagerResult, error)

type route struct {
	contains string
	handler  Handler
}

// Runner matches statements by substring, first registered route wins.
// Unmatched statements succeed with no records.
type Runner struct {
	mu     sync.Mutex
	routes []route
	calls  []Call
}

func NewRunner() *Runner {
	return &Runner{}
}

// On registers handler for statements containing fragment.
func (r *Runner) On(fragment string, handler Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{contains: fragment, handler: handler})
	return r
}

// Returns registers a static result for statements containing fragment.
func (r *Runner) Returns(fragment string, records ...*neo4j.Record) *Runner {
	return r.On(fragment, func(string, map[string]any) (*neo4j.EagerResult, error) {
		return Result(records...), nil
	})
}

// Fails registers an error for statements containing fragment.
func (r *Runner) Fails(fragment string, err error) *Runner {
	return r.On(fragment, func(string, map[string]any) (*neo4j.EagerResult, error) {
		return nil, err
	})
}

func (r *Runner) Run(_ context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Query: query, Params: params})
	var h Handler
	for _, rt := range r.routes {
		if strings.Contains(query, rt.contains) {
			h = rt.handler
			break
		}
	}
	r.mu.Unlock()

	if h == nil {
		return Result(), nil
	}
	res, err := h(query, params)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return Result(), nil
	}
	return res, nil
}

// Calls returns every statement seen so far.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsMatching returns the statements containing fragment, in order.
func (r *Runner) CallsMatching(fragment string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if strings.Contains(c.Query, fragment) {
			out = append(out, c)
		}
	}
	return out
}

// Record builds a record from alternating key/value pairs.
func Record(kv ...any) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Keys = append(rec.Keys, kv[i].(string))
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}

func Result(records ...*neo4j.Record) *neo4j.EagerResult {
	res := &neo4j.EagerResult{Records: records}
	if len(records) > 0 {
		res.Keys = records[0].Keys
	}
	return res
}
