package notegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/snarg/scribe-engine/internal/diarize"
)

// AzureOpenAIClient generates notes through an Azure OpenAI chat-completions
// deployment.
type AzureOpenAIClient struct {
	endpoint   string
	deployment string
	apiVersion string
	apiKey     string
	timeout    time.Duration
	client     *http.Client
}

// NewAzureOpenAIClient creates a client for the given Azure OpenAI resource
// endpoint and deployment name.
func NewAzureOpenAIClient(endpoint, deployment, apiVersion, apiKey string, timeout time.Duration) *AzureOpenAIClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if apiVersion == "" {
		apiVersion = "2024-06-01"
	}
	return &AzureOpenAIClient{
		endpoint:   endpoint,
		deployment: deployment,
		apiVersion: apiVersion,
		apiKey:     apiKey,
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *AzureOpenAIClient) Name() string  { return "azure_openai" }
func (c *AzureOpenAIClient) Model() string { return c.deployment }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate prompts the deployment with the template instructions and the
// speaker-labeled transcript, then parses the reply into template sections.
func (c *AzureOpenAIClient) Generate(ctx context.Context, dt *diarize.DiarizedTranscript, tmpl *Template) (*Note, error) {
	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: tmpl.Prompt},
			{Role: "user", Content: RenderTranscript(dt)},
		},
		Temperature: 0.2,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, url.PathEscape(c.deployment), url.QueryEscape(c.apiVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

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
		return nil, classifyGenError(nil, resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing chat response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("azure openai: %s: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("azure openai: empty choices")
	}

	sections := parseSections(tmpl, parsed.Choices[0].Message.Content)
	return &Note{
		TemplateID:  tmpl.ID,
		Sections:    conformSections(tmpl, sections),
		GeneratedAt: time.Now().UTC(),
		Backend:     c.Name(),
		Model:       c.Model(),
		Version:     1,
	}, nil
}

// classifyGenError maps transport and HTTP failures onto the generator
// sentinels. Timeouts, connection failures, 5xx, and 429 are transient.
func classifyGenError(err error, status int, body []byte) error {
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if errors.As(err, new(*url.Error)) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, truncate(body, 200))
	}
	return fmt.Errorf("note backend returned status %d: %s", status, truncate(body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
