package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/quizrace/internal/domain"
	"github.com/quizrace/internal/service"
	"github.com/quizrace/internal/session"
	"github.com/quizrace/internal/websocket"
)

// Handler provides HTTP handlers for the quiz API
type Handler struct {
	service        *service.GameService
	hub            *websocket.Hub
	cookieName     string
	sessionTimeout time.Duration
	logger         *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.GameService, hub *websocket.Hub, cookieName string, sessionTimeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		service:        service,
		hub:            hub,
		cookieName:     cookieName,
		sessionTimeout: sessionTimeout,
		logger:         logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint for the live round feed
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/games/{gameID}/join", h.JoinGame)

		// Gameplay operations; every route here revalidates session
		// continuity inside the service
		r.Route("/play", func(r chi.Router) {
			r.Get("/next-question", h.NextQuestion)
			r.Post("/submit-answer", h.SubmitAnswer)
			r.Get("/timing-status", h.TimingStatus)
			r.Post("/recover-connection", h.RecoverConnection)
		})

		r.Get("/rounds/{roundID}/standings", h.RoundStandings)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Client-Fingerprint")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps a domain error to its HTTP status. Unknown
// errors are logged and masked as internal.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrSessionExpired):
		h.writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, domain.ErrPaymentRequired):
		h.writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, domain.ErrFraudSuspected):
		h.writeError(w, http.StatusForbidden, err)
	case domain.IsForbiddenError(err):
		h.writeError(w, http.StatusForbidden, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrAnswerTimeout):
		h.writeError(w, http.StatusRequestTimeout, err)
	case errors.Is(err, domain.ErrGameOver), errors.Is(err, domain.ErrNoOpenSlot):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternal)
	}
}

// requestContext builds the continuity context from the session cookie
// and request attributes. The session id is empty when no cookie is
// present; the service rejects that.
func (h *Handler) requestContext(r *http.Request) session.RequestContext {
	sessionID := ""
	if cookie, err := r.Cookie(h.cookieName); err == nil {
		sessionID = cookie.Value
	}
	return session.FromRequest(r, sessionID)
}

// ensureSession returns the existing session id or issues a fresh
// cookie. Only the join endpoint mints sessions.
func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(h.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	sessionID := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(h.sessionTimeout.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sessionID
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

type joinRequest struct {
	UserEmail string `json:"user_email"`
}

// JoinGame starts or resumes a participant's run through a game
func (h *Handler) JoinGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if gameID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.UserEmail == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	sessionID := h.ensureSession(w, r)
	rc := session.FromRequest(r, sessionID)

	result, err := h.service.JoinGame(r.Context(), rc, gameID, req.UserEmail)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    result,
	})
}

// NextQuestion serves the participant's next question and starts its
// timer
func (h *Handler) NextQuestion(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant_id")
	if participantID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	payload, err := h.service.NextQuestion(r.Context(), h.requestContext(r), participantID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeSuccess(w, payload)
}

type submitRequest struct {
	ParticipantID string `json:"participant_id"`
	QuestionID    string `json:"question_id"`
	Choice        *int   `json:"choice"`
	// Client wall clock at submit, unix milliseconds. Optional; feeds
	// the clock-skew signal only, never the timing decision.
	ClientTimestamp *int64 `json:"client_timestamp"`
}

// SubmitAnswer scores an answer submission against its timing slot
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.ParticipantID == "" || req.QuestionID == "" || req.Choice == nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	sub := service.AnswerSubmission{
		ParticipantID: req.ParticipantID,
		QuestionID:    req.QuestionID,
		Choice:        *req.Choice,
	}
	if req.ClientTimestamp != nil {
		ts := time.UnixMilli(*req.ClientTimestamp)
		sub.ClientTimestamp = &ts
	}

	result, err := h.service.SubmitAnswer(r.Context(), h.requestContext(r), sub)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeSuccess(w, result)
}

// TimingStatus reports remaining time for the pending question
func (h *Handler) TimingStatus(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant_id")
	if participantID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.TimingStatus(r.Context(), h.requestContext(r), participantID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeSuccess(w, result)
}

type recoverRequest struct {
	ParticipantID string `json:"participant_id"`
}

// RecoverConnection re-issues the pending question after a dropped
// connection, or reports the terminal outcome if the deadline passed
func (h *Handler) RecoverConnection(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.ParticipantID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.RecoverConnection(r.Context(), h.requestContext(r), req.ParticipantID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeSuccess(w, result)
}

// RoundStandings returns the completion ranking for a round
func (h *Handler) RoundStandings(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")
	if roundID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.service.RoundStandings(r.Context(), roundID, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.writeSuccess(w, entries)
}
