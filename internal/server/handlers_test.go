package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/embedding"
	"github.com/hyperjump/kiji/internal/history"
	"github.com/hyperjump/kiji/internal/ingest"
	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/rag"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vectorindex"
)

func newTestServer(t *testing.T, gen llm.Generator) (*Server, history.Store) {
	t.Helper()
	emb := embedding.NewMockEmbedder(8)
	index := vectorindex.NewMemoryIndex()
	require.NoError(t, index.EnsureCollection(context.Background(), 8))
	store := history.NewMemoryStore(time.Hour, time.Hour, nil)
	archive, err := storage.NewSQLiteArchive(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	engine, err := rag.NewEngine(rag.Config{
		Embedder:  emb,
		Index:     index,
		History:   store,
		Generator: gen,
		Archive:   archive,
	})
	require.NoError(t, err)

	ingester, err := ingest.NewIngester(ingest.Config{Embedder: emb, Index: index, Archive: archive})
	require.NoError(t, err)

	srv := NewServer(engine, ingester, store, index, archive,
		&config.ServerConfig{Host: "127.0.0.1", Port: 0}, zap.NewNop())
	return srv, store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleChat(t *testing.T) {
	srv, _ := newTestServer(t, &llm.MockGenerator{Default: "no"})
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/chat", models.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.Message)
	assert.Empty(t, resp.Sources)
}

func TestHandleChat_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &llm.MockGenerator{Default: "no"})
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/chat", models.ChatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatStream(t *testing.T) {
	srv, _ := newTestServer(t, &llm.MockGenerator{Default: "no, wait: yes and no"})
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/chat/stream", models.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var events []models.StreamEvent
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev models.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, models.EventMetadata, events[0].Type)
	assert.Equal(t, models.EventSources, events[1].Type)
	assert.Equal(t, models.EventComplete, events[len(events)-1].Type)

	var content strings.Builder
	for _, ev := range events[2 : len(events)-1] {
		assert.Equal(t, models.EventContent, ev.Type)
		content.WriteString(ev.Content)
	}
	assert.Equal(t, content.String(), events[len(events)-1].Message)
}

func TestHandleChatStream_EmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, &llm.MockGenerator{Default: "no"})
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/chat/stream", models.ChatRequest{Message: ""})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"error"`)
}

func TestSessionLifecycle(t *testing.T) {
	srv, store := newTestServer(t, &llm.MockGenerator{Default: "no"})
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sessions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	chatRec := doJSON(t, router, http.MethodPost, "/api/v1/chat", models.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, chatRec.Code)
	var chatResp models.ChatResponse
	require.NoError(t, json.Unmarshal(chatRec.Body.Bytes(), &chatResp))

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sessions/"+chatResp.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, chatResp.SessionID, sess.ID)
	assert.Equal(t, 2, sess.MessagesCount)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%s/messages?limit=1", chatResp.SessionID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgResp struct {
		SessionID string           `json:"session_id"`
		Messages  []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgResp))
	require.Len(t, msgResp.Messages, 1)
	assert.Equal(t, models.RoleAssistant, msgResp.Messages[0].Role)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/"+chatResp.SessionID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	gone, err := store.GetSession(context.Background(), chatResp.SessionID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestHandleGetTranscripts(t *testing.T) {
	srv, _ := newTestServer(t, &llm.MockGenerator{Default: "no"})
	router := srv.Router()

	chatRec := doJSON(t, router, http.MethodPost, "/api/v1/chat", models.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, chatRec.Code)
	var chatResp models.ChatResponse
	require.NoError(t, json.Unmarshal(chatRec.Body.Bytes(), &chatResp))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sessions/"+chatResp.SessionID+"/transcripts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		SessionID   string               `json:"session_id"`
		Transcripts []storage.Transcript `json:"transcripts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Transcripts, 1)
	assert.Equal(t, "hello", resp.Transcripts[0].Question)
	assert.Equal(t, chatResp.Message, resp.Transcripts[0].Answer)

	// A session the store never saw still answers with an empty list.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/sessions/ghost/transcripts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transcripts":[]`)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/sessions/x/transcripts?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetTranscripts_NoArchive(t *testing.T) {
	srv, _ := newTestServer(t, &llm.MockGenerator{Default: "no"})
	srv.archive = nil
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/sessions/x/transcripts", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetMessages_InvalidLimit(t *testing.T) {
	srv, _ := newTestServer(t, &llm.MockGenerator{Default: "no"})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/sessions/x/messages?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, srv.Router(), http.MethodGet, "/api/v1/sessions/x/messages?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngestArticles(t *testing.T) {
	srv, _ := newTestServer(t, &llm.MockGenerator{Default: "no"})
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/articles", ingestRequest{
		Source: "test",
		Articles: []models.Article{{
			Title:   "Budget approved",
			Link:    "https://example.org/budget",
			Content: "The annual budget was approved on Tuesday after a long debate.",
		}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var report ingest.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Articles)
	assert.Equal(t, 1, report.Chunks)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/articles", ingestRequest{Source: "test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthAndStatus(t *testing.T) {
	srv, _ := newTestServer(t, &llm.MockGenerator{Default: "no"})
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	doJSON(t, router, http.MethodPost, "/api/v1/articles", ingestRequest{
		Articles: []models.Article{{
			Title: "a", Link: "https://example.org/a",
			Content: "Some reasonably long article content for indexing.",
		}},
	})

	rec = doJSON(t, router, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, float64(1), status["points"])
	assert.Equal(t, float64(8), status["dimensions"])
}
