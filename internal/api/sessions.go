package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/notegen"
	"github.com/snarg/scribe-engine/internal/session"
)

const maxUploadBytes = 256 << 20 // 256MB of audio

// SessionHandler exposes the encounter pipeline over HTTP: one-shot uploads,
// live capture, and the export surface.
type SessionHandler struct {
	controller *session.Controller
	log        zerolog.Logger
}

func NewSessionHandler(controller *session.Controller, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		controller: controller,
		log:        log.With().Str("handler", "sessions").Logger(),
	}
}

// Routes registers the session endpoints.
func (h *SessionHandler) Routes(r chi.Router) {
	r.Post("/", h.Upload)
	r.Get("/", h.List)
	r.Post("/start", h.Start)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Get("/export", h.Export)
		r.Post("/note", h.EditNote)
		r.Post("/audio", h.AppendAudio)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.Post("/stop", h.Stop)
	})
}

// Upload handles POST /api/v1/sessions: a complete WAV recording plus consent
// fields, run through the full pipeline before responding.
func (h *SessionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	consent := session.ConsentRecord{
		PatientName: r.FormValue("patient_name"),
		Approved:    r.FormValue("approved") == "true",
		ObtainedAt:  time.Now().UTC(),
	}
	templateID := r.FormValue("template_id")

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

	snap, err := h.controller.Process(r.Context(), consent, artifact, templateID)
	if err != nil {
		WriteSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, snap)
}

// Start handles POST /api/v1/sessions/start: begin a live capture session.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientName string `json:"patient_name"`
		Approved    bool   `json:"approved"`
		TemplateID  string `json:"template_id"`
	}
	if err := decodeJSON(r, &req, 1<<20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	snap, err := h.controller.Start(session.ConsentRecord{
		PatientName: req.PatientName,
		Approved:    req.Approved,
		ObtainedAt:  time.Now().UTC(),
	}, req.TemplateID)
	if err != nil {
		WriteSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, snap)
}

// AppendAudio handles POST /api/v1/sessions/{id}/audio: a raw PCM chunk.
func (h *SessionHandler) AppendAudio(w http.ResponseWriter, r *http.Request) {
	pcm, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio chunk")
		return
	}
	if err := h.controller.Append(chi.URLParam(r, "id"), pcm); err != nil {
		WriteSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Pause(chi.URLParam(r, "id")); err != nil {
		WriteSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Resume(chi.URLParam(r, "id")); err != nil {
		WriteSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stop handles POST /api/v1/sessions/{id}/stop: end capture and run the
// pipeline. Responds once the session is complete or failed.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	snap, err := h.controller.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.controller.Get(chi.URLParam(r, "id"))
	if err != nil {
		WriteSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.controller.List())
}

// Export handles GET /api/v1/sessions/{id}/export.
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	exp, err := h.controller.Export(chi.URLParam(r, "id"))
	if err != nil {
		WriteSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, exp)
}

// EditNote handles POST /api/v1/sessions/{id}/note: a manual revision that
// becomes a new note version.
func (h *SessionHandler) EditNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sections []notegen.Section `json:"sections"`
	}
	if err := decodeJSON(r, &req, 4<<20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	note, err := h.controller.EditNote(chi.URLParam(r, "id"), req.Sections)
	if err != nil {
		WriteSessionError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, note)
}

// Delete handles DELETE /api/v1/sessions/{id}: discard a running session or
// remove a finished one from the registry.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.controller.Discard(id)
	if session.KindOf(err) == session.KindInvalidStageTransition {
		err = h.controller.Delete(id)
	}
	if err != nil {
		WriteSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
