package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/snarg/scribe-engine/internal/session"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteSessionError maps a classified pipeline error onto an HTTP status and
// writes it with its kind so clients can branch without string matching.
func WriteSessionError(w http.ResponseWriter, err error) {
	kind := session.KindOf(err)
	WriteJSON(w, kindStatus(kind), ErrorResponse{
		Error:  http.StatusText(kindStatus(kind)),
		Kind:   string(kind),
		Detail: err.Error(),
	})
}

func kindStatus(kind session.Kind) int {
	switch kind {
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindConsentRequired:
		return http.StatusForbidden
	case session.KindEmptyAudio:
		return http.StatusBadRequest
	case session.KindInvalidStageTransition:
		return http.StatusConflict
	case session.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case session.KindTemplateMismatch:
		return http.StatusUnprocessableEntity
	case session.KindEngineUnavailable, session.KindGenerationUnavailable,
		session.KindTranscriptionError, session.KindNoteGenerationError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a request body, limiting its size.
func decodeJSON(r *http.Request, v any, maxBytes int64) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return fmt.Errorf("body exceeds %d bytes", maxBytes)
	}
	return json.Unmarshal(body, v)
}
