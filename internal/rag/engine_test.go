package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kiji/internal/history"
	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/vectorindex"
)

// stubEmbedder maps election-flavored text to one axis and everything else to
// the other, so retrieval behaves predictably against a two-dimensional index.
type stubEmbedder struct {
	mu      sync.Mutex
	queries []string
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.queries = append(s.queries, text)
	s.mu.Unlock()
	if strings.Contains(strings.ToLower(text), "election") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 2 }
func (s *stubEmbedder) Close() error   { return nil }

// countingIndex wraps an index and counts searches.
type countingIndex struct {
	vectorindex.Index
	searches int
}

func (c *countingIndex) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]vectorindex.Result, error) {
	c.searches++
	return c.Index.Search(ctx, vector, k, threshold)
}

// scriptedReply routes generator calls by prompt markers: the one-word
// classifier, the query rewriter, and everything else (the answer).
func scriptedReply(classify, expanded, answer string, answerErr error) func(string) (string, error) {
	return func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "exactly one word"):
			return classify, nil
		case strings.Contains(prompt, "Return ONLY the rewritten query"):
			return expanded, nil
		default:
			if answerErr != nil {
				return "", answerErr
			}
			return answer, nil
		}
	}
}

type testEngine struct {
	engine   *Engine
	embedder *stubEmbedder
	index    *countingIndex
	store    *history.MemoryStore
	gen      *llm.MockGenerator
}

func newTestEngine(t *testing.T, gen *llm.MockGenerator) *testEngine {
	t.Helper()
	emb := &stubEmbedder{}
	mem := vectorindex.NewMemoryIndex()
	require.NoError(t, mem.EnsureCollection(context.Background(), 2))
	idx := &countingIndex{Index: mem}
	store := history.NewMemoryStore(time.Hour, time.Hour, nil)

	engine, err := NewEngine(Config{
		Embedder:  emb,
		Index:     idx,
		History:   store,
		Generator: gen,
	})
	require.NoError(t, err)
	return &testEngine{engine: engine, embedder: emb, index: idx, store: store, gen: gen}
}

func seedNewsPoints(t *testing.T, idx vectorindex.Index) {
	t.Helper()
	points := []vectorindex.Point{
		{ID: 1, Vector: []float32{1, 0}, Payload: vectorindex.Payload{Title: "Election night results", Link: "https://example.org/e1", Content: "The incumbent conceded."}},
		{ID: 2, Vector: []float32{0.95, 0.05}, Payload: vectorindex.Payload{Title: "Recount ordered", Link: "https://example.org/e2", Content: "Margins were thin."}},
		{ID: 3, Vector: []float32{0.9, 0.1}, Payload: vectorindex.Payload{Title: "Turnout hits record", Link: "https://example.org/e3", Content: "Lines formed early."}},
		{ID: 4, Vector: []float32{0, 1}, Payload: vectorindex.Payload{Title: "Storm front incoming", Link: "https://example.org/w1", Content: "Heavy rain expected."}},
		{ID: 5, Vector: []float32{0.1, 0.9}, Payload: vectorindex.Payload{Title: "Heat wave persists", Link: "https://example.org/w2", Content: "Records broken again."}},
	}
	require.NoError(t, idx.Upsert(context.Background(), points))
}

func TestEngine_NewsQuestionCitesOnlyMatchingSources(t *testing.T) {
	gen := &llm.MockGenerator{Reply: scriptedReply("yes", "election results winner", "The incumbent conceded on election night.", nil)}
	te := newTestEngine(t, gen)
	seedNewsPoints(t, te.index)

	resp, err := te.engine.Chat(context.Background(), models.ChatRequest{Message: "Who won the election?"})
	require.NoError(t, err)
	assert.Equal(t, "The incumbent conceded on election night.", resp.Message)
	assert.NotEmpty(t, resp.SessionID)

	require.Len(t, resp.Sources, 3, "weather articles fall below threshold")
	for _, src := range resp.Sources {
		assert.Contains(t, src.Link, "/e", "only election sources cited: %s", src.Link)
		assert.GreaterOrEqual(t, src.Score, 0.7)
	}

	// The search query concatenates the original question with the expansion.
	require.Len(t, te.embedder.queries, 1)
	assert.Contains(t, te.embedder.queries[0], "Who won the election?")
	assert.Contains(t, te.embedder.queries[0], "election results winner")

	// The grounded prompt carries the retrieved excerpts.
	calls := gen.Calls()
	last := calls[len(calls)-1]
	assert.Contains(t, last[len(last)-1].Content, "The incumbent conceded.")
}

func TestEngine_NonNewsSkipsRetrieval(t *testing.T) {
	gen := &llm.MockGenerator{Reply: scriptedReply("no", "", "4", nil)}
	te := newTestEngine(t, gen)
	seedNewsPoints(t, te.index)

	resp, err := te.engine.Chat(context.Background(), models.ChatRequest{Message: "What's 2+2?"})
	require.NoError(t, err)
	assert.Equal(t, "4", resp.Message)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, te.index.searches, "no retrieval for non-news questions")
	assert.Empty(t, te.embedder.queries)
}

func TestEngine_EmptyRetrievalFallsBackToContextFree(t *testing.T) {
	gen := &llm.MockGenerator{Reply: scriptedReply("yes", "obscure topic", "Nothing on file about that.", nil)}
	te := newTestEngine(t, gen)
	// Index holds only orthogonal points.
	require.NoError(t, te.index.Upsert(context.Background(), []vectorindex.Point{
		{ID: 9, Vector: []float32{0, 1}, Payload: vectorindex.Payload{Title: "Weather"}},
	}))

	resp, err := te.engine.Chat(context.Background(), models.ChatRequest{Message: "Any election fraud rulings?"})
	require.NoError(t, err)
	assert.Equal(t, "Nothing on file about that.", resp.Message)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, 1, te.index.searches, "retrieval was attempted")
}

func TestEngine_RejectsEmptyMessage(t *testing.T) {
	te := newTestEngine(t, &llm.MockGenerator{})
	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := te.engine.Chat(context.Background(), models.ChatRequest{Message: msg})
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	err := te.engine.ChatStream(context.Background(), models.ChatRequest{Message: ""}, func(models.StreamEvent) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestEngine_ExpansionFailureFallsBackToOriginalQuestion(t *testing.T) {
	gen := &llm.MockGenerator{Reply: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "exactly one word"):
			return "yes", nil
		case strings.Contains(prompt, "Return ONLY the rewritten query"):
			return "", errors.New("expansion backend down")
		default:
			return "An answer.", nil
		}
	}}
	te := newTestEngine(t, gen)
	seedNewsPoints(t, te.index)

	resp, err := te.engine.Chat(context.Background(), models.ChatRequest{Message: "Who won the election?"})
	require.NoError(t, err)
	assert.Equal(t, "An answer.", resp.Message)
	require.Len(t, te.embedder.queries, 1)
	assert.Equal(t, "Who won the election?", te.embedder.queries[0])
}

func TestEngine_RecordsExchangeInHistory(t *testing.T) {
	gen := &llm.MockGenerator{Reply: scriptedReply("no", "", "hello there", nil)}
	te := newTestEngine(t, gen)

	resp, err := te.engine.Chat(context.Background(), models.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	msgs, err := te.store.GetMessages(context.Background(), resp.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello there", msgs[1].Content)

	sess, err := te.store.GetSession(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 2, sess.MessagesCount)
}

func TestEngine_ReusesExistingSession(t *testing.T) {
	gen := &llm.MockGenerator{Reply: scriptedReply("no", "", "sure", nil)}
	te := newTestEngine(t, gen)

	first, err := te.engine.Chat(context.Background(), models.ChatRequest{Message: "first"})
	require.NoError(t, err)
	second, err := te.engine.Chat(context.Background(), models.ChatRequest{SessionID: first.SessionID, Message: "second"})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	sess, err := te.store.GetSession(context.Background(), first.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 4, sess.MessagesCount)

	// The second turn sees the first exchange as history.
	calls := gen.Calls()
	last := calls[len(calls)-1]
	var sawHistory bool
	for _, m := range last {
		if m.Role == models.RoleAssistant && m.Content == "sure" {
			sawHistory = true
		}
	}
	assert.True(t, sawHistory, "prior assistant turn should be in the prompt")
}

func TestEngine_StreamEventOrder(t *testing.T) {
	gen := &llm.MockGenerator{Reply: scriptedReply("yes", "election", "The votes were counted.", nil)}
	te := newTestEngine(t, gen)
	seedNewsPoints(t, te.index)

	var events []models.StreamEvent
	err := te.engine.ChatStream(context.Background(), models.ChatRequest{Message: "Election news?"}, func(ev models.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 4)

	assert.Equal(t, models.EventMetadata, events[0].Type)
	assert.NotEmpty(t, events[0].SessionID)
	assert.Equal(t, models.EventSources, events[1].Type)
	assert.Len(t, events[1].Sources, 3)

	var content strings.Builder
	for _, ev := range events[2 : len(events)-1] {
		require.Equal(t, models.EventContent, ev.Type)
		content.WriteString(ev.Content)
	}
	last := events[len(events)-1]
	assert.Equal(t, models.EventComplete, last.Type)
	assert.Equal(t, "The votes were counted.", last.Message)
	assert.Equal(t, content.String(), last.Message, "complete event carries the concatenated answer")
	assert.Equal(t, events[0].SessionID, last.SessionID)

	// Delivered answers are recorded.
	msgs, err := te.store.GetMessages(context.Background(), last.SessionID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestEngine_StreamEmitsSingleErrorEvent(t *testing.T) {
	gen := &llm.MockGenerator{Reply: scriptedReply("no", "", "", errors.New("model unavailable"))}
	te := newTestEngine(t, gen)

	var events []models.StreamEvent
	err := te.engine.ChatStream(context.Background(), models.ChatRequest{Message: "hi"}, func(ev models.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	require.Error(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, models.EventMetadata, events[0].Type)
	assert.Equal(t, models.EventSources, events[1].Type)
	assert.Equal(t, models.EventError, events[2].Type)
	assert.NotEmpty(t, events[2].Message)

	// Nothing is recorded for a failed answer.
	msgs, err := te.store.GetMessages(context.Background(), events[0].SessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEngine_StreamClientDisconnectSkipsRecording(t *testing.T) {
	gen := &llm.MockGenerator{Reply: scriptedReply("no", "", "a longer answer with several words", nil)}
	te := newTestEngine(t, gen)

	disconnect := errors.New("write on closed connection")
	var sessionID string
	contentEvents := 0
	err := te.engine.ChatStream(context.Background(), models.ChatRequest{Message: "hi"}, func(ev models.StreamEvent) error {
		if ev.SessionID != "" {
			sessionID = ev.SessionID
		}
		if ev.Type == models.EventContent {
			contentEvents++
			if contentEvents == 2 {
				return disconnect
			}
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 2, contentEvents)

	msgs, err := te.store.GetMessages(context.Background(), sessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "partial answers are not recorded")
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Config{})
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "required")
}
