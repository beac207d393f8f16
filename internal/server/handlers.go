package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/rag"
	"github.com/hyperjump/kiji/internal/storage"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("chat request", zap.String("session_id", req.SessionID))
	resp, err := s.engine.Chat(r.Context(), req)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyMessage) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("chat failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to generate answer")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleChatStream answers over server-sent events. Each event is a data-only
// frame holding one JSON StreamEvent.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(ev models.StreamEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.engine.ChatStream(r.Context(), req, emit); err != nil {
		if errors.Is(err, rag.ErrEmptyMessage) {
			// The stream has not started yet for intake errors.
			_ = emit(models.StreamEvent{Type: models.EventError, Message: err.Error()})
			return
		}
		s.logger.Debug("chat stream ended with error", zap.Error(err))
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.history.GetSession(r.Context(), id)
	if err != nil {
		s.logger.Error("get session failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	msgs, err := s.history.GetMessages(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("get messages failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"messages":   msgs,
	})
}

// handleGetTranscripts serves archived exchanges for a session, newest first.
// Transcripts are best effort and outlive the in-memory session, so an
// unknown session yields an empty list rather than 404.
func (s *Server) handleGetTranscripts(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.respondError(w, http.StatusNotFound, "transcript archive not configured")
		return
	}
	id := chi.URLParam(r, "id")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	transcripts, err := s.archive.RecentTranscripts(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("get transcripts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if transcripts == nil {
		transcripts = []*storage.Transcript{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":  id,
		"transcripts": transcripts,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete session request", zap.String("session_id", id))
	if err := s.history.DeleteSession(r.Context(), id); err != nil {
		s.logger.Error("delete session failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type ingestRequest struct {
	Source   string           `json:"source"`
	Articles []models.Article `json:"articles"`
}

func (s *Server) handleIngestArticles(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Articles) == 0 {
		s.respondError(w, http.StatusBadRequest, "articles are required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	s.logger.Debug("ingest request",
		zap.String("source", req.Source), zap.Int("articles", len(req.Articles)))
	report, err := s.ingester.IngestArticles(r.Context(), req.Articles, req.Source)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{}

	info, err := s.index.Info(ctx)
	if err != nil {
		s.logger.Error("status: index info failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp["points"] = info.PointsCount
	resp["dimensions"] = info.Dimensions

	if s.archive != nil {
		count, err := s.archive.CountArticles(ctx)
		if err != nil {
			s.logger.Error("status: count articles failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["articles"] = count
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
