package query

import (
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventConsideredSourceIDs    TraceEventKind = "considered_source_ids"
	TraceEventUsedChunkIDs           TraceEventKind = "used_chunk_ids"
	TraceEventQueriedEntityIDs       TraceEventKind = "queried_entity_ids"
	TraceEventQueriedRelationshipIDs TraceEventKind = "queried_relationship_ids"
	TraceEventQueriedCommunityIDs    TraceEventKind = "queried_community_ids"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind
	IDs  []string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func record(t Tracer, kind TraceEventKind, ids []string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: kind, IDs: ids})
}

// RecordConsideredSourceIDs records document names.
func RecordConsideredSourceIDs(t Tracer, ids ...string) {
	record(t, TraceEventConsideredSourceIDs, ids)
}

func RecordUsedChunkIDs(t Tracer, ids ...string) {
	record(t, TraceEventUsedChunkIDs, ids)
}

func RecordQueriedEntityIDs(t Tracer, ids ...string) {
	record(t, TraceEventQueriedEntityIDs, ids)
}

func RecordQueriedRelationshipIDs(t Tracer, ids ...string) {
	record(t, TraceEventQueriedRelationshipIDs, ids)
}

func RecordQueriedCommunityIDs(t Tracer, ids ...string) {
	record(t, TraceEventQueriedCommunityIDs, ids)
}

// QueryTrace collects which documents, chunks, entities, relationships and
// communities were put in front of the model across one or more answers.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu  sync.Mutex
	ids map[TraceEventKind]map[string]struct{}
}

type QueryTraceSnapshot struct {
	ConsideredSourceIDs    []string `json:"considered_source_ids"`
	UsedChunkIDs           []string `json:"used_chunk_ids"`
	QueriedEntityIDs       []string `json:"queried_entity_ids"`
	QueriedRelationshipIDs []string `json:"queried_relationship_ids"`
	QueriedCommunityIDs    []string `json:"queried_community_ids"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{ids: make(map[TraceEventKind]map[string]struct{})}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}
	switch event.Kind {
	case TraceEventConsideredSourceIDs,
		TraceEventUsedChunkIDs,
		TraceEventQueriedEntityIDs,
		TraceEventQueriedRelationshipIDs,
		TraceEventQueriedCommunityIDs:
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.ids[event.Kind]
	if !ok {
		set = make(map[string]struct{})
		t.ids[event.Kind] = set
	}
	for _, id := range event.IDs {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		ConsideredSourceIDs:    sortedKeys(t.ids[TraceEventConsideredSourceIDs]),
		UsedChunkIDs:           sortedKeys(t.ids[TraceEventUsedChunkIDs]),
		QueriedEntityIDs:       sortedKeys(t.ids[TraceEventQueriedEntityIDs]),
		QueriedRelationshipIDs: sortedKeys(t.ids[TraceEventQueriedRelationshipIDs]),
		QueriedCommunityIDs:    sortedKeys(t.ids[TraceEventQueriedCommunityIDs]),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
