package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mid "github.com/OFFIS-RIT/kgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/kgraph/internal/queue"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/lookup"
	"github.com/OFFIS-RIT/kgraph/pkg/query"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnswerer struct {
	mode retrieval.Mode
	msgs []ai.ChatMessage
	err  error
}

func (f *fakeAnswerer) Answer(_ context.Context, msgs []ai.ChatMessage, mode retrieval.Mode, _ []string) (query.Answer, error) {
	f.mode, f.msgs = mode, msgs
	if f.err != nil {
		return query.Answer{}, f.err
	}
	return query.Answer{Message: "Alice.", Score: 0.9}, nil
}

type fakeRetriever struct {
	req retrieval.Request
}

func (f *fakeRetriever) Retrieve(_ context.Context, req retrieval.Request) (retrieval.Result, error) {
	f.req = req
	if strings.TrimSpace(req.Question) == "" {
		return retrieval.Result{}, retrieval.ErrEmptyQuestion
	}
	return retrieval.Result{Text: "ctx", Score: 0.5, Metadata: retrieval.Metadata{Mode: req.Mode}}, nil
}

type fakeLookup struct {
	mode    retrieval.Mode
	details lookup.NodeDetails
	names   []string
	page    int
	err     error
}

func (f *fakeLookup) GetEntities(_ context.Context, mode retrieval.Mode, details lookup.NodeDetails, _ retrieval.EntityRefs) (lookup.Response, error) {
	f.mode, f.details = mode, details
	return lookup.DefaultResponse(), f.err
}

func (f *fakeLookup) DocumentGraph(_ context.Context, names []string) (lookup.Graph, error) {
	f.names = names
	return lookup.Graph{Nodes: []lookup.Node{{ElementID: "d", Labels: []string{"Document"}}}}, f.err
}

func (f *fakeLookup) ChunkText(_ context.Context, name string, page int) (lookup.ChunkPage, error) {
	f.names, f.page = []string{name}, page
	return lookup.ChunkPage{PageItems: []lookup.ChunkText{{Text: "t", Position: 1}}, TotalPages: 1}, f.err
}

func (f *fakeLookup) CompletedDocuments(context.Context) ([]string, error) {
	return []string{"a.pdf"}, f.err
}

type fakeBuilds struct {
	reason string
	err    error
}

func (f *fakeBuilds) EnqueueBuild(_ context.Context, reason string) (queue.BuildMessage, error) {
	f.reason = reason
	return queue.BuildMessage{JobID: "job-1", Reason: reason}, f.err
}

type fixture struct {
	e        *echo.Echo
	answerer *fakeAnswerer
	retr     *fakeRetriever
	lookup   *fakeLookup
	builds   *fakeBuilds
}

func newFixture() *fixture {
	f := &fixture{
		answerer: &fakeAnswerer{},
		retr:     &fakeRetriever{},
		lookup:   &fakeLookup{},
		builds:   &fakeBuilds{},
	}
	f.e = New(&mid.App{Answerer: f.answerer, Retriever: f.retr, Lookup: f.lookup, Builds: f.builds})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := newFixture().do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestChat(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/api/chat",
		`{"messages":[{"role":"user","message":"Who founded Acme?"}],"mode":"Entity_Vector"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ans query.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.Equal(t, "Alice.", ans.Message)
	assert.Equal(t, retrieval.ModeEntityVector, f.answerer.mode)
	assert.Len(t, f.answerer.msgs, 1)
}

func TestChatRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no messages", `{"messages":[]}`},
		{"bad role", `{"messages":[{"role":"system","message":"x"}]}`},
		{"unknown mode", `{"messages":[{"role":"user","message":"x"}],"mode":"sparse"}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newFixture().do(http.MethodPost, "/api/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestChatErrors(t *testing.T) {
	f := newFixture()
	f.answerer.err = query.ErrNoQuestion
	rec := f.do(http.MethodPost, "/api/chat", `{"messages":[{"role":"assistant","message":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.answerer.err = errors.New("index missing")
	rec = f.do(http.MethodPost, "/api/chat", `{"messages":[{"role":"user","message":"x"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "index missing")
}

func TestChatContext(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/api/chat/context", `{"question":"q","document_names":["a.pdf"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, retrieval.DefaultMode, f.retr.req.Mode)
	assert.Equal(t, []string{"a.pdf"}, f.retr.req.DocumentNames)

	rec = f.do(http.MethodPost, "/api/chat/context", `{"question":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChunkEntities(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/api/chunk-entities",
		`{"mode":"global_vector","nodedetails":{"communitydetails":[{"id":"4:k:1","score":0.9}]}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"nodes":[],"relationships":[],"chunk_data":[],"community_data":[]}`, rec.Body.String())
	assert.Equal(t, retrieval.ModeGlobalVector, f.lookup.mode)
	assert.Equal(t, []retrieval.Detail{{ID: "4:k:1", Score: 0.9}}, f.lookup.details.CommunityDetails)
}

func TestChunkEntitiesFailureStillReturnsShape(t *testing.T) {
	f := newFixture()
	f.lookup.err = errors.New("down")
	rec := f.do(http.MethodPost, "/api/chunk-entities", `{"mode":"vector"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"nodes":[],"relationships":[],"chunk_data":[],"community_data":[]}`, rec.Body.String())
}

func TestGraphAndDocuments(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/api/graph", `{"document_names":["a.pdf"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a.pdf"}, f.lookup.names)

	rec = f.do(http.MethodGet, "/api/documents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"documents":["a.pdf"]}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/documents/a.pdf/chunks?page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.lookup.page)
	assert.Contains(t, rec.Body.String(), `"total_pages":1`)

	rec = f.do(http.MethodGet, "/api/documents/a.pdf/chunks?page=two", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildCommunities(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/api/communities/build", `{"reason":"new documents"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "new documents", f.builds.reason)
	assert.Contains(t, rec.Body.String(), `"job_id":"job-1"`)

	f.builds.err = errors.New("queue down")
	rec = f.do(http.MethodPost, "/api/communities/build", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
