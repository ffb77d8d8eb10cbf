package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/snarg/scribe-engine/internal/audio"
)

// WhisperClient transcribes against a locally hosted neural model behind an
// OpenAI-compatible /v1/audio/transcriptions endpoint (faster-whisper,
// speaches, or the OpenAI API itself). Implements the Engine interface.
type WhisperClient struct {
	url     string
	apiKey  string // optional; empty for unauthenticated local servers
	model   string
	timeout time.Duration
	client  *http.Client
}

// whisperResponse is the verbose_json response body.
type whisperResponse struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration float64       `json:"duration"`
	Words    []whisperWord `json:"words"`
}

type whisperWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewWhisperClient creates a Whisper HTTP client.
func NewWhisperClient(url, apiKey, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:     url,
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the engine name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe sends the artifact as multipart/form-data and requests
// verbose_json with word-level timestamps. Whisper reports no per-word
// confidence, so words carry ConfidenceUnknown.
func (wc *WhisperClient) Transcribe(ctx context.Context, artifact *audio.Artifact, opts Options) (*Transcript, error) {
	if err := checkFormat(artifact); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "encounter.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(artifact.Data); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}

	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	w.WriteField("language", lang)
	w.WriteField("temperature", fmt.Sprintf("%.2f", opts.Temperature))
	w.WriteField("response_format", "verbose_json")
	w.WriteField("timestamp_granularities[]", "word")

	if opts.Vocabulary != "" {
		w.WriteField("prompt", opts.Vocabulary)
	}

	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if wc.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+wc.apiKey)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(err, 0, "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(nil, resp.StatusCode, string(body))
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	duration := result.Duration
	if duration == 0 {
		duration = artifact.Duration
	}

	var words []Word
	if len(result.Words) > 0 {
		words = make([]Word, len(result.Words))
		for i, ww := range result.Words {
			words[i] = Word{
				Text:       ww.Word,
				Start:      ww.Start,
				End:        ww.End,
				Confidence: ConfidenceUnknown,
			}
		}
	} else {
		words = fabricateTimings(result.Text, duration)
	}

	return &Transcript{
		Text:     result.Text,
		Language: result.Language,
		Duration: duration,
		Words:    words,
		Engine:   wc.Name(),
		Model:    wc.model,
	}, nil
}
