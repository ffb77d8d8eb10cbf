package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/snarg/scribe-engine/internal/audio"
)

// Engine is the interface for speech-to-text backends.
type Engine interface {
	Transcribe(ctx context.Context, artifact *audio.Artifact, opts Options) (*Transcript, error)
	Name() string  // "vosk", "whisper", "azure_speech"
	Model() string // model identifier for logs/exports
}

// Sentinel errors shared by all engine variants. Callers match with errors.Is.
var (
	// ErrUnavailable means the model or service is not loaded or unreachable
	// (connection failure, timeout, 5xx). Transient; eligible for retry.
	ErrUnavailable = errors.New("transcription engine unavailable")

	// ErrUnsupportedFormat means the engine cannot consume the artifact's
	// container format. Not retried.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// ConfidenceUnknown marks a word whose engine supplies no confidence value.
// It is a sentinel, not a low score: downstream reporting must treat it as
// "unknown" rather than false precision.
const ConfidenceUnknown = -1.0

// Options are per-request transcription options common to all engines.
type Options struct {
	Language    string  // ISO-639 code; defaults to "en"
	Temperature float64 // sampling temperature where the backend supports it
	Vocabulary  string  // comma-separated domain terms to boost
}

// Transcript is the common transcription result from any engine. It is
// produced once per session and immutable after creation.
type Transcript struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
	Words    []Word
	Engine   string
	Model    string
}

// Word is a timestamped word with recognizer confidence in [0,1], or
// ConfidenceUnknown when the engine does not report one.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// classifyHTTPError maps transport failures and status codes onto the engine
// error contract. Timeouts and connection errors are transient; 4xx about the
// payload is a format error.
func classifyHTTPError(err error, status int, body string) error {
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return fmt.Errorf("%w: request timed out: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case status == http.StatusUnsupportedMediaType:
		return fmt.Errorf("%w: server rejected media type: %s", ErrUnsupportedFormat, body)
	case status >= 500, status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, body)
	default:
		return fmt.Errorf("transcription request failed (status %d): %s", status, body)
	}
}

// checkFormat enforces the WAV-only contract shared by all engines.
func checkFormat(artifact *audio.Artifact) error {
	if artifact.Format != audio.FormatWAV {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, artifact.Format)
	}
	return nil
}

// fabricateTimings synthesizes monotonically increasing word timestamps
// spanning the audio duration for engines that return plain text only.
// Timestamps are interpolated evenly and confidence is marked unknown:
// these are placeholders, not measured timings.
func fabricateTimings(text string, duration float64) []Word {
	tokens := strings.Fields(text)
	n := len(tokens)
	if n == 0 {
		return nil
	}

	wordDur := duration / float64(n)
	words := make([]Word, n)
	for i, tok := range tokens {
		words[i] = Word{
			Text:       tok,
			Start:      float64(i) * wordDur,
			End:        float64(i+1) * wordDur,
			Confidence: ConfidenceUnknown,
		}
	}
	return words
}
