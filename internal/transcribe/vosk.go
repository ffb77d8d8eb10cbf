package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/snarg/scribe-engine/internal/audio"
)

// VoskClient transcribes against an offline Kaldi acoustic model served by a
// local vosk-server instance. The server accepts a raw WAV body and returns
// the recognizer's final result, including per-word confidence. Implements
// the Engine interface.
type VoskClient struct {
	url     string
	model   string // model directory name, for logs/exports
	timeout time.Duration
	client  *http.Client
}

// voskResponse is the recognizer FinalResult payload.
type voskResponse struct {
	Text   string     `json:"text"`
	Result []voskWord `json:"result"`
}

type voskWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

// NewVoskClient creates a client for a local vosk-server endpoint.
func NewVoskClient(url, model string, timeout time.Duration) *VoskClient {
	return &VoskClient{
		url:     url,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the engine name.
func (vc *VoskClient) Name() string { return "vosk" }

// Model returns the configured model identifier.
func (vc *VoskClient) Model() string { return vc.model }

// Transcribe posts the WAV payload to the recognizer. Vosk supplies word
// timestamps and confidence directly; nothing is fabricated unless the
// recognizer returns bare text.
func (vc *VoskClient) Transcribe(ctx context.Context, artifact *audio.Artifact, opts Options) (*Transcript, error) {
	if err := checkFormat(artifact); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, vc.url, bytes.NewReader(artifact.Data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	if vc.model != "" {
		req.Header.Set("X-Vosk-Model", vc.model)
	}

	resp, err := vc.client.Do(req)
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

	var result voskResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text := strings.TrimSpace(result.Text)

	var words []Word
	if len(result.Result) > 0 {
		words = make([]Word, len(result.Result))
		for i, vw := range result.Result {
			words[i] = Word{
				Text:       vw.Word,
				Start:      vw.Start,
				End:        vw.End,
				Confidence: vw.Conf,
			}
		}
	} else {
		words = fabricateTimings(text, artifact.Duration)
	}

	return &Transcript{
		Text:     text,
		Language: opts.Language,
		Duration: artifact.Duration,
		Words:    words,
		Engine:   vc.Name(),
		Model:    vc.model,
	}, nil
}
