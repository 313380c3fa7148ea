package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/saikaki/backend/internal/handler/stream"
	"github.com/saikaki/backend/internal/model/chat"
	"github.com/saikaki/backend/internal/service/ai"
	chatservice "github.com/saikaki/backend/internal/service/chat"
	"github.com/saikaki/backend/internal/service/enrich"
	"github.com/saikaki/backend/internal/service/pii"
	"github.com/saikaki/backend/pkg/utils"
)

// Handler serves session CRUD, the blocking (non-streaming) turn, and
// regeneration.
type Handler struct {
	chatSvc   *chatservice.Service
	completer ai.Completer
	enricher  enrich.Enricher
}

// New creates the chat handler.
func New(chatSvc *chatservice.Service, completer ai.Completer, enricher enrich.Enricher) *Handler {
	return &Handler{chatSvc: chatSvc, completer: completer, enricher: enricher}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/sessions/{sessionID}/messages", h.handleTurn)
	r.Post("/sessions/{sessionID}/regenerate", h.handleRegenerate)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.UserID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.ListSessions(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.ListMessages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// turnRequest mirrors the streaming transport's inbound shape.
type turnRequest struct {
	Content      string `json:"content"`
	Role         string `json:"role"`
	UserLocation *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"userLocation"`
}

// handleTurn is the non-streaming turn: one blocking completion, one JSON
// response carrying both persisted messages.
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	if h.completer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai unavailable")
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Role != "" && req.Role != chat.RoleUser {
		utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported role %q", req.Role))
		return
	}
	if _, err := h.chatSvc.GetSession(ctx, sessionID); err != nil {
		h.respondSessionError(w, err)
		return
	}

	cleaned, err := pii.Clean(req.Content)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "message could not be processed")
		return
	}

	history, err := h.chatSvc.History(ctx, sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	userMsg, err := h.chatSvc.SaveUserMessage(ctx, sessionID, cleaned)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	content, err := h.completer.Generate(ctx, history, cleaned, h.locality(r, &req))
	if err != nil {
		log.Printf("[chat] generation failed for session=%s: %v", sessionID, err)
		aiMsg, saveErr := h.chatSvc.SaveAssistantMessage(ctx, sessionID, stream.ApologyText, chat.Metadata{
			"error":   true,
			"replyTo": userMsg.ID,
		})
		if saveErr != nil {
			log.Printf("[chat] failed to persist error reply for session=%s: %v", sessionID, saveErr)
			utils.RespondError(w, http.StatusInternalServerError, "reply generation failed")
			return
		}
		utils.RespondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":       "reply generation failed",
			"userMessage": userMsg,
			"aiMessage":   aiMsg,
		})
		return
	}

	meta := chat.Metadata{"streamed": false, "replyTo": userMsg.ID}
	if suffix, enrichErr := h.enricher.Enrich(ctx, cleaned, content); enrichErr != nil {
		log.Printf("[chat] enrichment skipped for session=%s: %v", sessionID, enrichErr)
	} else if suffix != "" {
		content += suffix
		meta["enhanced"] = true
	}

	aiMsg, err := h.chatSvc.SaveAssistantMessage(ctx, sessionID, content, meta)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save reply")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"userMessage": userMsg,
		"aiMessage":   aiMsg,
	})
}

// handleRegenerate re-answers the most recent user message with a blocking
// completion. Regeneration is additive: the prior assistant reply stays.
func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	if h.completer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai unavailable")
		return
	}

	userMsg, history, err := h.chatSvc.RegenerateTarget(ctx, sessionID)
	if err != nil {
		if errors.Is(err, chatservice.ErrNoUserTurn) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondSessionError(w, err)
		return
	}

	content, err := h.completer.Generate(ctx, history, userMsg.Content, "")
	if err != nil {
		log.Printf("[chat] regeneration failed for session=%s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "reply generation failed")
		return
	}

	meta := chat.Metadata{"regenerated": true, "replyTo": userMsg.ID}
	if suffix, enrichErr := h.enricher.Enrich(ctx, userMsg.Content, content); enrichErr != nil {
		log.Printf("[chat] enrichment skipped for session=%s: %v", sessionID, enrichErr)
	} else if suffix != "" {
		content += suffix
		meta["enhanced"] = true
	}

	aiMsg, err := h.chatSvc.SaveAssistantMessage(ctx, sessionID, content, meta)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save reply")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, aiMsg)
}

func (h *Handler) locality(r *http.Request, req *turnRequest) string {
	if req.UserLocation != nil {
		return fmt.Sprintf("lat %.4f, lon %.4f", req.UserLocation.Lat, req.UserLocation.Lon)
	}
	host := r.RemoteAddr
	if hostOnly, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = hostOnly
	}
	if host == "" {
		return ""
	}
	return "ip " + host
}

func (h *Handler) respondSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, chatservice.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
