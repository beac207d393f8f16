// Package rag orchestrates a chat query end to end: classify, retrieve,
// generate, deliver, record.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/embedding"
	"github.com/hyperjump/kiji/internal/history"
	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vectorindex"
)

// Defaults for retrieval and history assembly.
const (
	DefaultTopK         = 5
	DefaultHistoryLimit = 10
)

// ErrEmptyMessage rejects blank questions at intake.
var ErrEmptyMessage = errors.New("message must not be empty")

// Config wires the engine's collaborators. Archive is optional; when set,
// exchanges are also persisted as transcripts, best effort.
type Config struct {
	Embedder  embedding.Embedder
	Index     vectorindex.Index
	History   history.Store
	Generator llm.Generator
	Archive   storage.Archive
	Logger    *zap.Logger

	TopK           int
	ScoreThreshold float64
	HistoryLimit   int

	// GenOptions tunes the answer generation; classification and query
	// expansion use their own fixed parameters.
	GenOptions llm.Options
}

// Engine is the query orchestrator. Each call runs independently; the only
// shared state is the remote stores the collaborators wrap.
type Engine struct {
	embedder  embedding.Embedder
	index     vectorindex.Index
	store     history.Store
	generator llm.Generator
	archive   storage.Archive
	logger    *zap.Logger

	topK           int
	scoreThreshold float64
	historyLimit   int
	genOptions     llm.Options
}

// NewEngine creates the orchestrator from its collaborators.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Embedder == nil || cfg.Index == nil || cfg.History == nil || cfg.Generator == nil {
		return nil, fmt.Errorf("rag: embedder, index, history and generator are required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.ScoreThreshold == 0 {
		cfg.ScoreThreshold = vectorindex.DefaultScoreThreshold
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		embedder:       cfg.Embedder,
		index:          cfg.Index,
		store:          cfg.History,
		generator:      cfg.Generator,
		archive:        cfg.Archive,
		logger:         cfg.Logger,
		topK:           cfg.TopK,
		scoreThreshold: cfg.ScoreThreshold,
		historyLimit:   cfg.HistoryLimit,
		genOptions:     cfg.GenOptions,
	}, nil
}

// Chat answers one question and returns the buffered response.
func (e *Engine) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return nil, ErrEmptyMessage
	}
	sessionID, err := e.resolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	answer, sources, err := e.respond(ctx, sessionID, question, nil, nil)
	if err != nil {
		return nil, err
	}

	e.record(ctx, sessionID, question, answer, sources)
	return &models.ChatResponse{
		SessionID: sessionID,
		Message:   answer,
		Sources:   sources,
		Timestamp: time.Now(),
	}, nil
}

// ChatStream answers one question as a typed event sequence: metadata, then
// sources, then content increments, then complete. Any failure after the
// stream opens is reported as a single error event. emit errors (typically a
// disconnected client) stop generation; history is recorded only for answers
// that were fully delivered.
func (e *Engine) ChatStream(ctx context.Context, req models.ChatRequest, emit func(models.StreamEvent) error) error {
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return ErrEmptyMessage
	}
	sessionID, err := e.resolveSession(ctx, req.SessionID)
	if err != nil {
		return err
	}

	if err := emit(models.StreamEvent{
		Type:      models.EventMetadata,
		SessionID: sessionID,
		Timestamp: time.Now(),
	}); err != nil {
		return err
	}

	onSources := func(sources []models.Source) error {
		return emit(models.StreamEvent{Type: models.EventSources, Sources: sources})
	}
	onDelta := func(delta string) error {
		return emit(models.StreamEvent{Type: models.EventContent, Content: delta})
	}

	answer, sources, err := e.respond(ctx, sessionID, question, onSources, onDelta)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Error("streaming chat failed",
			zap.String("session_id", sessionID), zap.Error(err))
		if emitErr := emit(models.StreamEvent{
			Type:    models.EventError,
			Message: "failed to generate answer",
		}); emitErr != nil {
			return emitErr
		}
		return err
	}

	if err := emit(models.StreamEvent{
		Type:      models.EventComplete,
		SessionID: sessionID,
		Message:   answer,
		Sources:   sources,
		Timestamp: time.Now(),
	}); err != nil {
		return err
	}

	e.record(ctx, sessionID, question, answer, sources)
	return nil
}

// resolveSession returns an existing session's ID or creates a new session,
// minting an ID when the caller supplied none.
func (e *Engine) resolveSession(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		if _, err := e.store.CreateSession(ctx, id); err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
	}
	return id, nil
}

// respond runs classify → retrieve → generate. onSources and onDelta are
// optional; when onDelta is set the generation is streamed through it and the
// concatenated answer is returned as well.
func (e *Engine) respond(ctx context.Context, sessionID, question string,
	onSources func([]models.Source) error, onDelta func(string) error) (string, []models.Source, error) {

	newsRelated, err := llm.IsNewsRelated(ctx, e.generator, question)
	if err != nil {
		return "", nil, err
	}

	var results []vectorindex.Result
	if newsRelated {
		results, err = e.retrieve(ctx, question)
		if err != nil {
			return "", nil, err
		}
	}
	sources := sourcesFromResults(results)

	if onSources != nil {
		if err := onSources(sources); err != nil {
			return "", nil, err
		}
	}

	messages, err := e.buildMessages(ctx, sessionID, question, results)
	if err != nil {
		return "", nil, err
	}

	if onDelta == nil {
		answer, err := e.generator.Generate(ctx, messages, e.genOptions)
		if err != nil {
			return "", nil, fmt.Errorf("generate answer: %w", err)
		}
		return answer, sources, nil
	}

	var full strings.Builder
	err = e.generator.GenerateStream(ctx, messages, e.genOptions, func(delta string) error {
		full.WriteString(delta)
		return onDelta(delta)
	})
	if err != nil {
		return "", nil, fmt.Errorf("generate answer: %w", err)
	}
	return full.String(), sources, nil
}

// retrieve expands the question, embeds the combined query and searches the
// index. Expansion failures are logged and the original question is used;
// an empty result set is the context-free fallback, not an error.
func (e *Engine) retrieve(ctx context.Context, question string) ([]vectorindex.Result, error) {
	searchQuery := question
	if expanded, err := llm.ExpandQuery(ctx, e.generator, question); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		e.logger.Warn("query expansion failed, using original question", zap.Error(err))
	} else if expanded != "" {
		searchQuery = question + " " + expanded
	}

	vector, err := e.embedder.Embed(ctx, searchQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := e.index.Search(ctx, vector, e.topK, e.scoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	e.logger.Debug("retrieval finished",
		zap.Int("results", len(results)), zap.String("query", searchQuery))
	return results, nil
}

// buildMessages assembles the system prompt, recent history and the user turn.
// With retrieved context the user turn is the grounded prompt; without it the
// question goes in bare.
func (e *Engine) buildMessages(ctx context.Context, sessionID, question string, results []vectorindex.Result) ([]llm.ChatMessage, error) {
	messages := []llm.ChatMessage{{Role: "system", Content: systemPrompt}}

	past, err := e.store.GetMessages(ctx, sessionID, e.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	for _, m := range past {
		messages = append(messages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}

	userTurn := question
	if len(results) > 0 {
		userTurn = groundedPrompt(question, results)
	}
	return append(messages, llm.ChatMessage{Role: "user", Content: userTurn}), nil
}

// record appends the exchange to history and the transcript archive. Failures
// are logged, never surfaced; the answer was already delivered.
func (e *Engine) record(ctx context.Context, sessionID, question, answer string, sources []models.Source) {
	now := time.Now()
	if err := e.store.AppendMessage(ctx, sessionID, models.Message{
		Role: models.RoleUser, Content: question, Timestamp: now,
	}); err != nil {
		e.logger.Warn("failed to record user message",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if err := e.store.AppendMessage(ctx, sessionID, models.Message{
		Role: models.RoleAssistant, Content: answer, Sources: sources, Timestamp: now,
	}); err != nil {
		e.logger.Warn("failed to record assistant message",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	if e.archive == nil {
		return
	}
	if err := e.archive.SaveTranscript(ctx, &storage.Transcript{
		SessionID: sessionID,
		Question:  question,
		Answer:    answer,
		Sources:   len(sources),
		CreatedAt: now,
	}); err != nil {
		e.logger.Warn("failed to archive transcript",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}
