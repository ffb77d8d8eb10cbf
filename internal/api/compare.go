package api

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/notegen"
	"github.com/snarg/scribe-engine/internal/session"
)

// CompareHandler runs the same recording through two engine/generator
// pairings and reports the divergence.
type CompareHandler struct {
	runner    *session.Runner
	factory   BackendFactory
	templates *notegen.Registry
	log       zerolog.Logger
}

func NewCompareHandler(runner *session.Runner, factory BackendFactory, templates *notegen.Registry, log zerolog.Logger) *CompareHandler {
	return &CompareHandler{
		runner:    runner,
		factory:   factory,
		templates: templates,
		log:       log.With().Str("handler", "compare").Logger(),
	}
}

// Compare handles POST /api/v1/compare. Multipart form: an "audio" WAV file
// plus left_engine/left_generator/right_engine/right_generator fields and an
// optional template_id.
func (h *CompareHandler) Compare(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	tmpl, err := h.templates.Get(r.FormValue("template_id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	left, err := h.branch(r, "left", tmpl)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	right, err := h.branch(r, "right", tmpl)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	artifact, err := audio.FromWAV(data)
	if err != nil {
		WriteError(w, http.StatusUnsupportedMediaType, "invalid WAV: "+err.Error())
		return
	}

	cmp, err := h.runner.Compare(r.Context(), artifact, left, right)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, cmp)
}

// branch builds one comparison branch from its form fields.
func (h *CompareHandler) branch(r *http.Request, side string, tmpl *notegen.Template) (session.Branch, error) {
	engine, err := h.factory.Engine(r.FormValue(side + "_engine"))
	if err != nil {
		return session.Branch{}, err
	}
	generator, err := h.factory.Generator(r.FormValue(side + "_generator"))
	if err != nil {
		return session.Branch{}, err
	}
	return session.Branch{
		Label:     side,
		Engine:    engine,
		Generator: generator,
		Template:  tmpl,
	}, nil
}
