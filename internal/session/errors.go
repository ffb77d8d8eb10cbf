package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/snarg/scribe-engine/internal/crypto"
	"github.com/snarg/scribe-engine/internal/notegen"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// Kind classifies a pipeline failure. Kinds are stable strings suitable for
// API payloads and metric labels.
type Kind string

const (
	KindConsentRequired        Kind = "consent_required"
	KindEmptyAudio             Kind = "empty_audio"
	KindInvalidStageTransition Kind = "invalid_stage_transition"
	KindEngineUnavailable      Kind = "engine_unavailable"
	KindGenerationUnavailable  Kind = "generation_unavailable"
	KindTranscriptionError     Kind = "transcription_error"
	KindNoteGenerationError    Kind = "note_generation_error"
	KindUnsupportedFormat      Kind = "unsupported_format"
	KindTemplateMismatch       Kind = "template_mismatch"
	KindDecryptionFailed       Kind = "decryption_failed"
	KindCancelled              Kind = "cancelled"
	KindNotFound               Kind = "not_found"
)

// Error is a classified pipeline failure carrying the stage it occurred in
// and, where relevant, the backend involved.
type Error struct {
	Kind    Kind
	Stage   Stage
	Backend string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s at stage %s", msg, e.Stage)
	}
	if e.Backend != "" {
		msg = fmt.Sprintf("%s (backend %s)", msg, e.Backend)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure may succeed on retry.
func (e *Error) Transient() bool {
	return e.Kind == KindEngineUnavailable || e.Kind == KindGenerationUnavailable
}

// classify maps a backend error onto the taxonomy for the given stage.
func classify(stage Stage, backend string, err error) *Error {
	kind := KindTranscriptionError
	if stage == StageGeneratingNote {
		kind = KindNoteGenerationError
	}

	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCancelled
	case errors.Is(err, transcribe.ErrUnavailable):
		kind = KindEngineUnavailable
	case errors.Is(err, transcribe.ErrUnsupportedFormat):
		kind = KindUnsupportedFormat
	case errors.Is(err, notegen.ErrUnavailable):
		kind = KindGenerationUnavailable
	case errors.Is(err, notegen.ErrTemplateMismatch):
		kind = KindTemplateMismatch
	case errors.Is(err, crypto.ErrDecryptionFailed):
		kind = KindDecryptionFailed
	}

	return &Error{Kind: kind, Stage: stage, Backend: backend, Err: err}
}

// IsTransient reports whether err is a classified transient failure.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Transient()
}

// KindOf extracts the failure kind from err, or empty when err is not a
// classified session error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
