package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snarg/scribe-engine/internal/audio"
)

// ticksPerSecond converts Azure's 100-nanosecond offsets to seconds.
const ticksPerSecond = 1e7

// AzureSpeechClient transcribes against the Azure Cognitive Services
// speech-to-text REST API (short audio, detailed format with word-level
// timestamps). Implements the Engine interface.
type AzureSpeechClient struct {
	endpoint string // region endpoint, e.g. https://eastus.stt.speech.microsoft.com
	apiKey   string
	timeout  time.Duration
	client   *http.Client
}

// azureResponse is the detailed-format recognition result.
type azureResponse struct {
	RecognitionStatus string  `json:"RecognitionStatus"`
	DisplayText       string  `json:"DisplayText"`
	Duration          float64 `json:"Duration"` // 100ns ticks
	NBest             []struct {
		Confidence float64 `json:"Confidence"`
		Display    string  `json:"Display"`
		Words      []struct {
			Word       string  `json:"Word"`
			Offset     float64 `json:"Offset"`   // 100ns ticks
			Duration   float64 `json:"Duration"` // 100ns ticks
			Confidence float64 `json:"Confidence"`
		} `json:"Words"`
	} `json:"NBest"`
}

// NewAzureSpeechClient creates a client for the Azure speech REST API.
func NewAzureSpeechClient(endpoint, apiKey string, timeout time.Duration) *AzureSpeechClient {
	return &AzureSpeechClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the engine name.
func (ac *AzureSpeechClient) Name() string { return "azure_speech" }

// Model returns the service identifier used in logs/exports.
func (ac *AzureSpeechClient) Model() string { return "conversation-v1" }

// Transcribe posts the WAV payload to the conversation recognition endpoint
// with detailed output and word-level timestamps.
func (ac *AzureSpeechClient) Transcribe(ctx context.Context, artifact *audio.Artifact, opts Options) (*Transcript, error) {
	if err := checkFormat(artifact); err != nil {
		return nil, err
	}

	lang := opts.Language
	if lang == "" {
		lang = "en-US"
	}

	q := url.Values{}
	q.Set("language", lang)
	q.Set("format", "detailed")
	q.Set("wordLevelTimestamps", "true")
	reqURL := ac.endpoint + "/speech/recognition/conversation/cognitiveservices/v1?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(artifact.Data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate=16000")
	req.Header.Set("Ocp-Apim-Subscription-Key", ac.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := ac.client.Do(req)
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

	var result azureResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if result.RecognitionStatus != "Success" {
		return nil, fmt.Errorf("%w: recognition status %q", ErrUnavailable, result.RecognitionStatus)
	}

	duration := result.Duration / ticksPerSecond
	if duration == 0 {
		duration = artifact.Duration
	}

	text := result.DisplayText
	var words []Word
	if len(result.NBest) > 0 {
		best := result.NBest[0]
		if best.Display != "" {
			text = best.Display
		}
		for _, aw := range best.Words {
			conf := aw.Confidence
			if conf == 0 {
				conf = best.Confidence
			}
			words = append(words, Word{
				Text:       aw.Word,
				Start:      aw.Offset / ticksPerSecond,
				End:        (aw.Offset + aw.Duration) / ticksPerSecond,
				Confidence: conf,
			})
		}
	}
	if len(words) == 0 {
		words = fabricateTimings(text, duration)
	}

	return &Transcript{
		Text:     text,
		Language: lang,
		Duration: duration,
		Words:    words,
		Engine:   ac.Name(),
		Model:    ac.Model(),
	}, nil
}
