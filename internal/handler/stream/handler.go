package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/saikaki/backend/internal/service/ai"
	chatservice "github.com/saikaki/backend/internal/service/chat"
	"github.com/saikaki/backend/internal/service/enrich"
	"github.com/saikaki/backend/pkg/utils"
)

// Handler exposes the streaming turn over SSE and WebSocket transports.
type Handler struct {
	relay   *Relay
	chatSvc *chatservice.Service
}

// New creates the streaming handler.
func New(chatSvc *chatservice.Service, completer ai.Completer, enricher enrich.Enricher) *Handler {
	return &Handler{
		relay:   NewRelay(chatSvc, completer, enricher),
		chatSvc: chatSvc,
	}
}

// RegisterRoutes mounts the streaming endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{sessionID}/stream", h.handleSSE)
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

// turnRequest is the inbound turn payload shared by both transports.
type turnRequest struct {
	Content      string `json:"content"`
	Role         string `json:"role"`
	UserLocation *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"userLocation"`
}

func (req *turnRequest) validate() error {
	if strings.TrimSpace(req.Content) == "" {
		return errors.New("content is required")
	}
	if req.Role == "" {
		req.Role = "user"
	}
	if req.Role != "user" {
		return fmt.Errorf("unsupported role %q", req.Role)
	}
	return nil
}

// locality derives the hint passed to the completion provider: an explicit
// client location wins over the caller IP.
func (req *turnRequest) locality(r *http.Request) string {
	if req.UserLocation != nil {
		return fmt.Sprintf("lat %.4f, lon %.4f", req.UserLocation.Lat, req.UserLocation.Lon)
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if host == "" {
		return ""
	}
	return "ip " + host
}

// handleSSE upgrades the response to a one-way SSE channel and runs one turn.
// Validation failures are rejected before any side effect.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)

	h.relay.Run(r.Context(), &sseSink{w: w, flusher: flusher}, sessionID, req.Content, req.locality(r))
}

// sseSink frames relay events as SSE data lines.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(event Event) error {
	return utils.WriteSSE(s.w, s.flusher, event)
}
