package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/identity"
	"github.com/ashureev/penpal/internal/writing"
	"github.com/go-chi/chi/v5"
)

// WritingHandler serves the writing session endpoints.
type WritingHandler struct {
	*Handler
	engine    *writing.Engine
	lifecycle *writing.Lifecycle
	// checkLimit throttles submissions; nil disables it.
	checkLimit func(http.Handler) http.Handler
}

// NewWritingHandler creates a WritingHandler.
func NewWritingHandler(base *Handler, engine *writing.Engine, lifecycle *writing.Lifecycle, checkLimit func(http.Handler) http.Handler) *WritingHandler {
	return &WritingHandler{Handler: base, engine: engine, lifecycle: lifecycle, checkLimit: checkLimit}
}

// RegisterRoutes registers writing routes on the /api router.
func (h *WritingHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireUser)
		r.Post("/sessions/start", h.StartSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/history", h.GetHistory)

		r.Group(func(r chi.Router) {
			if h.checkLimit != nil {
				r.Use(h.checkLimit)
			}
			r.Post("/sessions/{id}/check", h.Check)
		})
	})
}

type startSessionRequest struct {
	Topic string `json:"topic"`
}

type startSessionResponse struct {
	SessionID    string `json:"sessionId"`
	AIMessage    string `json:"aiMessage"`
	MessageCount int    `json:"messageCount"`
}

// StartSession opens a writing session.
func (h *WritingHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}

	res, err := h.lifecycle.StartSession(r.Context(), identity.UserIDFromContext(r.Context()), req.Topic)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, startSessionResponse{
		SessionID:    res.SessionID,
		AIMessage:    res.AIMessage,
		MessageCount: res.MessageCount,
	})
}

type checkRequest struct {
	SessionID   string `json:"sessionId"`
	UserMessage string `json:"userMessage"`
}

type rejectionResponse struct {
	IsCorrect  bool   `json:"isCorrect"`
	Error      string `json:"error,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type acceptanceResponse struct {
	IsCorrect    bool   `json:"isCorrect"`
	AIMessage    string `json:"aiMessage,omitempty"`
	Improvement  string `json:"improvement,omitempty"`
	MessageCount int    `json:"messageCount"`
	IsCompleted  bool   `json:"isCompleted"`
}

// Check grades one submission and advances the session.
func (h *WritingHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}

	pathID := chi.URLParam(r, "id")
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.UserMessage) == "" {
		ErrorCode(w, http.StatusBadRequest, CodeInvalidArgument, "sessionId and userMessage are required")
		return
	}
	if req.SessionID != pathID {
		ErrorCode(w, http.StatusBadRequest, CodeInvalidArgument, "sessionId does not match the session in the path")
		return
	}

	res, err := h.engine.Step(r.Context(), identity.UserIDFromContext(r.Context()), pathID, req.UserMessage)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	if !res.IsCorrect {
		JSON(w, http.StatusOK, rejectionResponse{
			IsCorrect:  false,
			Error:      res.Error,
			Suggestion: res.Suggestion,
		})
		return
	}
	JSON(w, http.StatusOK, acceptanceResponse{
		IsCorrect:    true,
		AIMessage:    res.AIMessage,
		Improvement:  res.Improvement,
		MessageCount: res.MessageCount,
		IsCompleted:  res.IsCompleted,
	})
}

type sessionSummaryResponse struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	Status       string    `json:"status"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ListSessions returns the caller's sessions, newest first.
func (h *WritingHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.lifecycle.ListSessions(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	out := make([]sessionSummaryResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionSummaryResponse{
			ID:           s.ID,
			Topic:        s.Topic,
			Status:       string(s.Status),
			MessageCount: s.MessageCount,
			CreatedAt:    s.CreatedAt,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": out})
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type messageResponse struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Order       int       `json:"order"`
	IsCorrect   *bool     `json:"isCorrect,omitempty"`
	Improvement *string   `json:"improvement,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GetSession returns a session with its transcript.
func (h *WritingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, messages, err := h.lifecycle.Transcript(r.Context(), identity.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageResponse(m))
	}
	JSON(w, http.StatusOK, map[string]any{
		"session": sessionResponse{
			ID:        session.ID,
			Topic:     session.Topic,
			Status:    string(session.Status),
			CreatedAt: session.CreatedAt,
		},
		"messages": out,
	})
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		ID:          m.ID,
		Role:        string(m.Role),
		Content:     m.Content,
		Order:       m.Order,
		IsCorrect:   m.IsCorrect,
		Improvement: m.Improvement,
		CreatedAt:   m.CreatedAt,
	}
}

type mistakeResponse struct {
	ID          string    `json:"id"`
	Original    string    `json:"original"`
	Correction  string    `json:"correction"`
	Explanation string    `json:"explanation"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GetHistory returns the caller's recent mistakes.
func (h *WritingHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	mistakes, err := h.lifecycle.GetHistory(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	out := make([]mistakeResponse, 0, len(mistakes))
	for _, m := range mistakes {
		out = append(out, mistakeResponse{
			ID:          m.ID,
			Original:    m.Original,
			Correction:  m.Correction,
			Explanation: m.Explanation,
			CreatedAt:   m.CreatedAt,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"mistakes": out})
}
