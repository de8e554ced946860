package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetriever struct {
	result retrieval.Result
	err    error
	got    []retrieval.Request
}

func (s *stubRetriever) Retrieve(_ context.Context, req retrieval.Request) (retrieval.Result, error) {
	s.got = append(s.got, req)
	return s.result, s.err
}

func TestAnswerUsesRetrievedContext(t *testing.T) {
	r := &stubRetriever{result: retrieval.Result{
		Text:  "Text Content:\nAlice founded Acme.",
		Score: 0.8,
		Metadata: retrieval.Metadata{
			Sources:      []string{"a.pdf"},
			ChunkDetails: []retrieval.Detail{{ID: "c1", Score: 0.8}},
			Entities:     retrieval.EntityRefs{EntityIDs: []string{"e1"}, RelationshipIDs: []string{"r1"}},
		},
	}}

	var system []string
	var history []ai.ChatMessage
	client := &aitest.Client{
		Chat: func(_ context.Context, msgs []ai.ChatMessage, opts ai.GenerateOptions) (string, error) {
			system = opts.SystemPrompts
			history = msgs
			return "Alice.", nil
		},
	}
	trace := NewQueryTrace()

	c := NewClient(client, r, WithSystemPrompts("be brief"), WithTracer(trace))
	msgs := []ai.ChatMessage{
		{Role: "user", Message: "Who founded Acme?"},
		{Role: "assistant", Message: "Let me check."},
		{Role: "user", Message: "Who exactly?"},
	}
	ans, err := c.Answer(context.Background(), msgs, retrieval.ModeGraphVector, []string{"a.pdf"})
	require.NoError(t, err)

	assert.Equal(t, "Alice.", ans.Message)
	assert.InDelta(t, 0.8, ans.Score, 1e-9)
	require.Len(t, r.got, 1)
	assert.Equal(t, retrieval.Request{
		Question:      "Who exactly?",
		Mode:          retrieval.ModeGraphVector,
		DocumentNames: []string{"a.pdf"},
	}, r.got[0])

	require.Len(t, system, 2)
	assert.True(t, strings.Contains(system[0], "Alice founded Acme."))
	assert.Equal(t, "be brief", system[1])
	assert.Equal(t, msgs, history)

	snap := trace.Snapshot()
	assert.Equal(t, []string{"a.pdf"}, snap.ConsideredSourceIDs)
	assert.Equal(t, []string{"c1"}, snap.UsedChunkIDs)
	assert.Equal(t, []string{"e1"}, snap.QueriedEntityIDs)
	assert.Equal(t, []string{"r1"}, snap.QueriedRelationshipIDs)
	assert.Empty(t, snap.QueriedCommunityIDs)
}

func TestAnswerAppliesModelOverrides(t *testing.T) {
	r := &stubRetriever{result: retrieval.Result{Text: "Text Content:\nAlice founded Acme."}}

	var got ai.GenerateOptions
	client := &aitest.Client{
		Chat: func(_ context.Context, _ []ai.ChatMessage, opts ai.GenerateOptions) (string, error) {
			got = opts
			return "Alice.", nil
		},
	}

	c := NewClient(client, r, WithModel("gpt-4o"), WithThinking("low"), WithTemperature(0.7))
	_, err := c.Answer(context.Background(), []ai.ChatMessage{{Role: "user", Message: "Who?"}}, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, "low", got.Thinking)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.Len(t, got.SystemPrompts, 1)
}

func TestAnswerWithoutContextSaysSo(t *testing.T) {
	r := &stubRetriever{}
	client := &aitest.Client{
		Complete: func(_ context.Context, prompt string, _ ai.GenerateOptions) (string, error) {
			return "Nothing found.", nil
		},
		Chat: func(context.Context, []ai.ChatMessage, ai.GenerateOptions) (string, error) {
			t.Error("chat must not be called without context")
			return "", nil
		},
	}

	ans, err := NewClient(client, r).Answer(context.Background(),
		[]ai.ChatMessage{{Role: "user", Message: "Unknown?"}}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Nothing found.", ans.Message)
	require.Len(t, client.Prompts(), 1)
	assert.Contains(t, client.Prompts()[0], "Unknown?")
}

func TestAnswerErrors(t *testing.T) {
	_, err := NewClient(&aitest.Client{}, &stubRetriever{}).Answer(context.Background(),
		[]ai.ChatMessage{{Role: "assistant", Message: "hi"}}, "", nil)
	assert.ErrorIs(t, err, ErrNoQuestion)

	boom := errors.New("index missing")
	_, err = NewClient(&aitest.Client{}, &stubRetriever{err: boom}).Answer(context.Background(),
		[]ai.ChatMessage{{Role: "user", Message: "q"}}, "", nil)
	assert.ErrorIs(t, err, boom)
}

func TestQueryTraceIgnoresEmptyAndUnknown(t *testing.T) {
	trace := NewQueryTrace()
	multi := MultiTracer{trace, nil}

	RecordQueriedEntityIDs(multi, "b", "", "a", "b")
	multi.Record(TraceEvent{Kind: "other", IDs: []string{"x"}})

	snap := trace.Snapshot()
	assert.Equal(t, []string{"a", "b"}, snap.QueriedEntityIDs)
	assert.Empty(t, snap.UsedChunkIDs)

	var nilTrace *QueryTrace
	nilTrace.Record(TraceEvent{Kind: TraceEventUsedChunkIDs, IDs: []string{"c"}})
	assert.Equal(t, QueryTraceSnapshot{}, nilTrace.Snapshot())
}
