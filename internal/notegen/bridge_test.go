package notegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBridgeGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req bridgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Transcript) != 2 || req.Transcript[0].Speaker != "Doctor" {
			t.Errorf("transcript = %+v", req.Transcript)
		}
		if req.Template.ID != "soap" || len(req.Template.Sections) != 4 {
			t.Errorf("template = %+v", req.Template)
		}

		json.NewEncoder(w).Encode(bridgeResponse{
			Model: "llama-8b",
			Sections: []Section{
				{Name: "Subjective", Text: "chest pain since yesterday"},
				{Name: "Assessment", Text: "possible angina"},
			},
		})
	}))
	defer srv.Close()

	c := NewBridgeClient(srv.URL, "default", 5*time.Second)
	note, err := c.Generate(context.Background(), sampleTranscript(), SOAPTemplate)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if note.Backend != "bridge" || note.Model != "llama-8b" {
		t.Errorf("backend/model = %q/%q", note.Backend, note.Model)
	}
	if len(note.Sections) != 4 {
		t.Fatalf("expected all 4 template sections, got %d", len(note.Sections))
	}
	if text, _ := note.Section("Plan"); text != "" {
		t.Errorf("unfilled Plan should be empty, got %q", text)
	}
	if text, _ := note.Section("Subjective"); text != "chest pain since yesterday" {
		t.Errorf("Subjective = %q", text)
	}
	if note.Version != 1 {
		t.Errorf("Version = %d, want 1", note.Version)
	}
}

func TestBridgeGenerate_ErrorCodes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   string
		want   error
	}{
		{"template mismatch", http.StatusUnprocessableEntity, "template_mismatch", ErrTemplateMismatch},
		{"busy", http.StatusServiceUnavailable, "busy", ErrUnavailable},
		{"model loading", http.StatusServiceUnavailable, "model_loading", ErrUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(bridgeError{Code: tc.code, Message: "nope"})
			}))
			defer srv.Close()

			c := NewBridgeClient(srv.URL, "default", 5*time.Second)
			_, err := c.Generate(context.Background(), sampleTranscript(), SOAPTemplate)
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBridgeGenerate_ConnectionRefused(t *testing.T) {
	c := NewBridgeClient("http://127.0.0.1:1", "default", time.Second)
	_, err := c.Generate(context.Background(), sampleTranscript(), SOAPTemplate)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestAzureOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "k1" {
			t.Errorf("api-key header = %q", r.Header.Get("api-key"))
		}
		if r.URL.Query().Get("api-version") == "" {
			t.Error("api-version query parameter missing")
		}

		content := "## Subjective\nchest pain since yesterday\n## Objective\nBP 140/90\n" +
			"## Assessment\npossible angina\n## Plan\nECG and troponin"
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	defer srv.Close()

	c := NewAzureOpenAIClient(srv.URL, "gpt-4o", "", "k1", 5*time.Second)
	note, err := c.Generate(context.Background(), sampleTranscript(), SOAPTemplate)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if note.Backend != "azure_openai" || note.Model != "gpt-4o" {
		t.Errorf("backend/model = %q/%q", note.Backend, note.Model)
	}
	if text, _ := note.Section("Plan"); text != "ECG and troponin" {
		t.Errorf("Plan = %q", text)
	}
}

func TestAzureOpenAIGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewAzureOpenAIClient(srv.URL, "gpt-4o", "", "k1", 5*time.Second)
	_, err := c.Generate(context.Background(), sampleTranscript(), SOAPTemplate)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}
