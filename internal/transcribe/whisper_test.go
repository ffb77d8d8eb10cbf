package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snarg/scribe-engine/internal/audio"
)

func testArtifact() *audio.Artifact {
	frames := make([]byte, 16000*2*2) // 2s of 16kHz mono PCM
	a, err := audio.FromPCM(frames, 16000, 1)
	if err != nil {
		panic(err)
	}
	return a
}

func TestWhisperClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q, want verbose_json", got)
		}
		if got := r.FormValue("model"); got != "base.en" {
			t.Errorf("model = %q, want base.en", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"text": "patient reports headache",
			"language": "en",
			"duration": 2.0,
			"words": [
				{"word": "patient", "start": 0.0, "end": 0.5},
				{"word": "reports", "start": 0.5, "end": 1.1},
				{"word": "headache", "start": 1.1, "end": 1.8}
			]
		}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "", "base.en", 5*time.Second)
	tr, err := wc.Transcribe(context.Background(), testArtifact(), Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if tr.Text != "patient reports headache" {
		t.Errorf("Text = %q", tr.Text)
	}
	if len(tr.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(tr.Words))
	}
	for i, w := range tr.Words {
		if w.Confidence != ConfidenceUnknown {
			t.Errorf("word %d: confidence %v, want ConfidenceUnknown", i, w.Confidence)
		}
	}
	if tr.Engine != "whisper" || tr.Model != "base.en" {
		t.Errorf("Engine/Model = %q/%q", tr.Engine, tr.Model)
	}
}

func TestWhisperClient_FabricatesTimingsWithoutWords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "no timestamps here", "language": "en", "duration": 2.0}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "", "tiny", 5*time.Second)
	tr, err := wc.Transcribe(context.Background(), testArtifact(), Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(tr.Words) != 3 {
		t.Fatalf("expected 3 fabricated words, got %d", len(tr.Words))
	}
	if tr.Words[2].End != 2.0 {
		t.Errorf("last fabricated end = %v, want 2.0", tr.Words[2].End)
	}
}

func TestWhisperClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "", "tiny", 5*time.Second)
	_, err := wc.Transcribe(context.Background(), testArtifact(), Options{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestWhisperClient_ConnectionRefused(t *testing.T) {
	wc := NewWhisperClient("http://127.0.0.1:1", "", "tiny", time.Second)
	_, err := wc.Transcribe(context.Background(), testArtifact(), Options{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestWhisperClient_RejectsNonWAV(t *testing.T) {
	wc := NewWhisperClient("http://unused", "", "tiny", time.Second)
	bad := &audio.Artifact{Data: []byte{1, 2, 3}, Format: "mp3", Duration: 1}
	_, err := wc.Transcribe(context.Background(), bad, Options{})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}
