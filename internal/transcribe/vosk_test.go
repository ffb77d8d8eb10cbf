package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestVoskClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("Content-Type = %q, want audio/wav", ct)
		}
		w.Write([]byte(`{
			"text": "patient reports headache",
			"result": [
				{"word": "patient", "start": 0.0, "end": 0.5, "conf": 0.98},
				{"word": "reports", "start": 0.5, "end": 1.1, "conf": 0.2},
				{"word": "headache", "start": 1.1, "end": 1.8, "conf": 0.95}
			]
		}`))
	}))
	defer srv.Close()

	vc := NewVoskClient(srv.URL, "vosk-model-small-en-us-0.15", 5*time.Second)
	tr, err := vc.Transcribe(context.Background(), testArtifact(), Options{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if len(tr.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(tr.Words))
	}
	if tr.Words[1].Confidence != 0.2 {
		t.Errorf("word 1 confidence = %v, want 0.2", tr.Words[1].Confidence)
	}
	if tr.Engine != "vosk" {
		t.Errorf("Engine = %q, want vosk", tr.Engine)
	}
}

func TestVoskClient_BareText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "two words"}`))
	}))
	defer srv.Close()

	vc := NewVoskClient(srv.URL, "small", 5*time.Second)
	tr, err := vc.Transcribe(context.Background(), testArtifact(), Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(tr.Words) != 2 {
		t.Fatalf("expected 2 fabricated words, got %d", len(tr.Words))
	}
	if tr.Words[0].Confidence != ConfidenceUnknown {
		t.Errorf("fabricated words must carry ConfidenceUnknown, got %v", tr.Words[0].Confidence)
	}
}
