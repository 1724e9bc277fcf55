package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"juris-rag/internal/config"
	"juris-rag/internal/conversation"
	"juris-rag/internal/models"
	"juris-rag/internal/rag"
)

type fakeQuerier struct {
	got rag.QueryRequest
	err error
}

func (f *fakeQuerier) Query(_ context.Context, req rag.QueryRequest) (*rag.QueryResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &rag.QueryResponse{Answer: models.InsufficientContextAnswer, Citations: []models.Citation{}}, nil
}

type echoAnswerer struct {
	calls int
	err   error
}

func (e *echoAnswerer) Answer(_ context.Context, req rag.AnswerRequest) (*rag.Answer, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &rag.Answer{Content: "eco: " + req.Question, Citations: []models.Citation{}}, nil
}

type fakeIngester struct{ key string }

func (f *fakeIngester) IngestFromMetadata(_ context.Context, key string) (string, int, error) {
	f.key = key
	if key == "missing/metadata.json" {
		return "", 0, models.ErrNotFound
	}
	return "abc", 3, nil
}

type testServer struct {
	router   *gin.Engine
	querier  *fakeQuerier
	answerer *echoAnswerer
	ingester *fakeIngester
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	ts := &testServer{querier: &fakeQuerier{}, answerer: &echoAnswerer{}, ingester: &fakeIngester{}}
	manager := conversation.NewManager(config.Default().Conversation, conversation.NewMemoryStore(), ts.answerer, nil)
	ts.router = NewRouter(RouterConfig{Querier: ts.querier, Conversations: manager, Ingester: ts.ingester})
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

var owner = map[string]string{"X-User-ID": "u1"}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestHealth(t *testing.T) {
	rec := newTestServer().do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAskJuris(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(http.MethodPost, "/api/ia/ask-juris", `{"query":"multa art 80","filters":{"court":"SCBA","from":"2020-01-01"},"debug":true}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"`+models.InsufficientContextAnswer+`","citations":[]}`, rec.Body.String())
	assert.True(t, ts.querier.got.Strict, "strict defaults to true")
	assert.True(t, ts.querier.got.Debug)
	assert.Equal(t, "SCBA", ts.querier.got.Filters.Court)
	require.NotNil(t, ts.querier.got.Filters.From)
	assert.Equal(t, 2020, ts.querier.got.Filters.From.Year())
	assert.Nil(t, ts.querier.got.Filters.To)
}

func TestAskJuris_Errors(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/api/ia/ask-juris", `{"query":"x","filters":{"to":"17/05/2023"}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", errorCode(t, rec))

	rec = ts.do(http.MethodPost, "/api/ia/ask-juris", `{"query":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.querier.err = models.ErrInvalidInput
	rec = ts.do(http.MethodPost, "/api/ia/ask-juris", `{"query":"","strict":false}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, ts.querier.got.Strict)
}

func TestConversations_RequireOwner(t *testing.T) {
	rec := newTestServer().do(http.MethodGet, "/api/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_owner", errorCode(t, rec))
}

func TestConversations_FlowAndReplay(t *testing.T) {
	ts := newTestServer()
	headers := map[string]string{"X-User-ID": "u1", "Idempotency-Key": "k-1"}

	first := ts.do(http.MethodPost, "/api/conversations", `{"first_message":"¿Procede la multa?"}`, headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	replay := ts.do(http.MethodPost, "/api/conversations", `{"first_message":"¿Procede la multa?"}`, headers)
	require.Equal(t, http.StatusOK, replay.Code)

	assert.Equal(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, 1, ts.answerer.calls)

	var res conversation.Result
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &res))
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "eco: ¿Procede la multa?", res.Messages[1].Content)

	follow := ts.do(http.MethodPost, "/api/conversations", `{"conversation_id":"`+res.ConversationID+`","content":"¿Y el art. 2?","idempotency_key":"k-2"}`, owner)
	require.Equal(t, http.StatusOK, follow.Code)

	list := ts.do(http.MethodGet, "/api/conversations", "", owner)
	require.Equal(t, http.StatusOK, list.Code)
	var listed struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listed))
	require.Len(t, listed.Conversations, 1)

	detail := ts.do(http.MethodGet, "/api/conversations/"+res.ConversationID, "", owner)
	require.Equal(t, http.StatusOK, detail.Code)
	var d conversation.Detail
	require.NoError(t, json.Unmarshal(detail.Body.Bytes(), &d))
	assert.Len(t, d.Messages, 4)

	missing := ts.do(http.MethodGet, "/api/conversations/nope", "", owner)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestConversations_ProviderFailureIs502(t *testing.T) {
	ts := newTestServer()
	ts.answerer.err = models.ErrProviderFailure

	rec := ts.do(http.MethodPost, "/api/conversations", `{"content":"x","idempotency_key":"k"}`, owner)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "provider_failure", errorCode(t, rec))

	ts.answerer.err = nil
	rec = ts.do(http.MethodPost, "/api/conversations", `{"content":"x","idempotency_key":"k"}`, owner)
	assert.Equal(t, http.StatusOK, rec.Code, "the key was released")
}

func TestConversations_EmptyMessage(t *testing.T) {
	rec := newTestServer().do(http.MethodPost, "/api/conversations", `{"content":"  "}`, owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", errorCode(t, rec))
}

func TestIngest(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/api/ia/ingest", `{"metadata_key":"fallos/1/metadata.json"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"doc_id":"abc","chunks":3}`, rec.Body.String())
	assert.Equal(t, "fallos/1/metadata.json", ts.ingester.key)

	rec = ts.do(http.MethodPost, "/api/ia/ingest", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/ia/ingest", `{"metadata_key":"missing/metadata.json"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngest_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(RouterConfig{Querier: &fakeQuerier{}})
	req := httptest.NewRequest(http.MethodPost, "/api/ia/ingest", bytes.NewBufferString(`{"metadata_key":"k"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
