package api

import (
	"net/http"

	"github.com/snarg/scribe-engine/internal/notegen"
)

// TemplateHandler lists the available note templates.
type TemplateHandler struct {
	templates *notegen.Registry
}

func NewTemplateHandler(templates *notegen.Registry) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.templates.List())
}
