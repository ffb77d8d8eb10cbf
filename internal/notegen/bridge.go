package notegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/snarg/scribe-engine/internal/diarize"
)

// BridgeClient generates notes through a local model bridge speaking the
// scribe bridge protocol: POST /v1/generate with the transcript and template,
// receiving either the filled sections or a machine-readable error code.
type BridgeClient struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewBridgeClient creates a client for a bridge listening at baseURL.
func NewBridgeClient(baseURL, model string, timeout time.Duration) *BridgeClient {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &BridgeClient{
		url:     baseURL + "/v1/generate",
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *BridgeClient) Name() string  { return "bridge" }
func (c *BridgeClient) Model() string { return c.model }

type bridgeUtterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type bridgeRequest struct {
	Transcript []bridgeUtterance `json:"transcript"`
	Template   struct {
		ID       string   `json:"id"`
		Sections []string `json:"sections"`
		Prompt   string   `json:"prompt"`
	} `json:"template"`
	Options struct {
		Model       string  `json:"model,omitempty"`
		Temperature float64 `json:"temperature"`
	} `json:"options"`
}

type bridgeResponse struct {
	Sections []Section `json:"sections"`
	Model    string    `json:"model"`
}

type bridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Generate sends the diarized transcript and template to the bridge. Error
// responses are mapped by code: "template_mismatch" is permanent, "busy" and
// "model_loading" are transient, anything else is surfaced as-is.
func (c *BridgeClient) Generate(ctx context.Context, dt *diarize.DiarizedTranscript, tmpl *Template) (*Note, error) {
	var breq bridgeRequest
	breq.Transcript = make([]bridgeUtterance, len(dt.Segments))
	for i, seg := range dt.Segments {
		breq.Transcript[i] = bridgeUtterance{Speaker: seg.Speaker, Text: seg.Text}
	}
	breq.Template.ID = tmpl.ID
	breq.Template.Sections = tmpl.Sections
	breq.Template.Prompt = tmpl.Prompt
	breq.Options.Model = c.model
	breq.Options.Temperature = 0.2

	body, err := json.Marshal(breq)
	if err != nil {
		return nil, fmt.Errorf("encoding bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyGenError(err, 0, nil)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var berr bridgeError
		if json.Unmarshal(respBody, &berr) == nil && berr.Code != "" {
			switch berr.Code {
			case "template_mismatch":
				return nil, fmt.Errorf("%w: %s", ErrTemplateMismatch, berr.Message)
			case "busy", "model_loading", "unavailable":
				return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, berr.Code, berr.Message)
			default:
				return nil, fmt.Errorf("bridge error %s: %s", berr.Code, berr.Message)
			}
		}
		return nil, classifyGenError(nil, resp.StatusCode, respBody)
	}

	var parsed bridgeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing bridge response: %w", err)
	}

	model := c.model
	if parsed.Model != "" {
		model = parsed.Model
	}

	return &Note{
		TemplateID:  tmpl.ID,
		Sections:    conformSections(tmpl, parsed.Sections),
		GeneratedAt: time.Now().UTC(),
		Backend:     c.Name(),
		Model:       model,
		Version:     1,
	}, nil
}
