// Package http exposes the engine over a JSON API: turn processing, resume
// decisions, state inspection and the operational endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	espalier "github.com/seragusa/espalier"
	"github.com/seragusa/espalier/internal/input"
	"github.com/seragusa/espalier/pkg/domain"
)

// Engine is the surface the transport needs from the orchestration core.
type Engine interface {
	ProcessTurn(ctx context.Context, conversationID, message string) (espalier.TurnResult, error)
	ResumeTurn(ctx context.Context, conversationID string, decision domain.HumanDecision) (espalier.TurnResult, error)
	Inspect(ctx context.Context, conversationID string) (*domain.State, error)
	Conversations(ctx context.Context) ([]string, error)
	PendingReviews(ctx context.Context) ([]*domain.Checkpoint, error)
	Mermaid() string
}

// Server handles the HTTP surface.
type Server struct {
	engine Engine
	logger *slog.Logger
}

// NewHandler builds the router.
func NewHandler(engine Engine, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/conversations/{id}/messages", s.postMessage)
	r.Post("/conversations/{id}/resume", s.postResume)
	r.Get("/conversations/{id}", s.getConversation)
	r.Get("/conversations", s.listConversations)
	r.Get("/reviews", s.listReviews)
	r.Get("/graph", s.getGraph)
	r.Get("/healthz", s.getHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type messageRequest struct {
	Text string `json:"text"`
}

type resumeRequest struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
}

type turnResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply,omitempty"`
	Paused         bool   `json:"paused"`
	Turn           int    `json:"turn"`
}

type reviewResponse struct {
	ConversationID string    `json:"conversation_id"`
	Stage          string    `json:"stage"`
	Reason         string    `json:"reason,omitempty"`
	Message        string    `json:"message,omitempty"`
	Turn           int       `json:"turn"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at,omitzero"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	var body messageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if body.Text == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("text must not be empty"))
		return
	}
	text, err := input.Sanitize(body.Text)
	if err != nil {
		if errors.Is(err, input.ErrMessageTooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.engine.ProcessTurn(r.Context(), conversationID, text)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, turnResponse{
		ConversationID: conversationID,
		Reply:          result.Reply,
		Paused:         result.Paused,
		Turn:           result.Turn,
	})
}

func (s *Server) postResume(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	var body resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	switch body.Action {
	case domain.DecisionApprove, domain.DecisionReject:
	case domain.DecisionRewrite:
		if body.Text == "" {
			s.writeError(w, http.StatusUnprocessableEntity, errors.New("rewrite requires text"))
			return
		}
	default:
		s.writeError(w, http.StatusUnprocessableEntity, errors.New("action must be approve, reject or rewrite"))
		return
	}

	result, err := s.engine.ResumeTurn(r.Context(), conversationID, domain.HumanDecision{
		Action: body.Action,
		Text:   body.Text,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, turnResponse{
		ConversationID: conversationID,
		Reply:          result.Reply,
		Paused:         result.Paused,
		Turn:           result.Turn,
	})
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.Inspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.Conversations(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"conversations": ids})
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := s.engine.PendingReviews(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	reviews := make([]reviewResponse, 0, len(checkpoints))
	for _, cp := range checkpoints {
		review := reviewResponse{
			ConversationID: cp.ConversationID,
			Stage:          cp.Stage,
			CreatedAt:      cp.CreatedAt,
			ExpiresAt:      cp.ExpiresAt,
		}
		if cp.State != nil {
			review.Turn = cp.State.Turn
			if cp.State.Escalation != nil {
				review.Reason = cp.State.Escalation.Reason
				review.Message = cp.State.Escalation.Message
			}
		}
		reviews = append(reviews, review)
	}
	s.writeJSON(w, http.StatusOK, map[string][]reviewResponse{"reviews": reviews})
}

func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.engine.Mermaid()))
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": espalier.Version})
}

// writeEngineError maps engine sentinels onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrConversationBusy):
		s.writeError(w, http.StatusTooManyRequests, err)
	case errors.Is(err, domain.ErrAlreadyPaused), errors.Is(err, domain.ErrVersionConflict):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrNoPendingCheckpoint):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrModelTransient):
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}
