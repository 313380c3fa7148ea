package vision

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	visionservice "github.com/saikaki/backend/internal/service/vision"
	"github.com/saikaki/backend/pkg/utils"
)

// Handler exposes the image-generation collaborator.
type Handler struct {
	visionSvc *visionservice.Service
}

// New creates the vision handler.
func New(visionSvc *visionservice.Service) *Handler {
	return &Handler{visionSvc: visionSvc}
}

// RegisterRoutes mounts the vision routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/vision/generate", h.handleGenerate)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Prompt) == "" {
		utils.RespondError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	image, provider, err := h.visionSvc.Generate(r.Context(), payload.Prompt)
	if err != nil {
		log.Printf("[vision] generation failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "image generation failed")
		return
	}

	w.Header().Set("Content-Type", image.ContentType)
	w.Header().Set("X-Image-Provider", provider)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(image.Data); err != nil {
		log.Printf("[vision] failed to write image: %v", err)
	}
}
