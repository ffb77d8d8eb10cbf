package sanitize

import (
	"testing"

	"github.com/snarg/scribe-engine/internal/transcribe"
)

func wordsOf(texts ...string) []transcribe.Word {
	words := make([]transcribe.Word, len(texts))
	for i, t := range texts {
		words[i] = transcribe.Word{
			Text:       t,
			Start:      float64(i),
			End:        float64(i) + 0.8,
			Confidence: 0.9,
		}
	}
	return words
}

func transcriptOf(texts ...string) *transcribe.Transcript {
	words := wordsOf(texts...)
	return &transcribe.Transcript{Words: words, Duration: float64(len(words))}
}

func TestClean_RemovesFillers(t *testing.T) {
	s := New(Options{})
	ct := s.Clean(transcriptOf("um", "patient", "uh", "reports", "headache"))

	if len(ct.Words) != 3 {
		t.Fatalf("expected 3 words, got %d: %v", len(ct.Words), ct.Words)
	}
	want := []string{"patient", "reports", "headache"}
	for i, w := range ct.Words {
		if w.Text != want[i] {
			t.Errorf("word %d = %q, want %q", i, w.Text, want[i])
		}
	}
	if ct.Text != "patient reports headache" {
		t.Errorf("Text = %q", ct.Text)
	}
}

func TestClean_PreservesOrderAndConfidence(t *testing.T) {
	tr := transcriptOf("patient", "reports", "headache")
	tr.Words[1].Confidence = 0.2

	ct := New(Options{}).Clean(tr)

	if len(ct.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(ct.Words))
	}
	if ct.Words[1].Confidence != 0.2 {
		t.Errorf("confidence not carried through: %v", ct.Words[1].Confidence)
	}
	if ct.Source != tr {
		t.Error("CleanedTranscript must reference its upstream Transcript")
	}

	low := ct.LowConfidenceWords(0.5)
	if len(low) != 1 || low[0].Text != "reports" {
		t.Errorf("LowConfidenceWords = %v, want exactly [reports]", low)
	}
}

func TestLowConfidenceWords_IgnoresUnknown(t *testing.T) {
	tr := transcriptOf("alpha", "beta")
	tr.Words[0].Confidence = transcribe.ConfidenceUnknown

	ct := New(Options{}).Clean(tr)
	if low := ct.LowConfidenceWords(0.5); len(low) != 0 {
		t.Errorf("unknown confidence must not be reported as low: %v", low)
	}
}

func TestClean_StripsMarkup(t *testing.T) {
	ct := New(Options{}).Clean(transcriptOf("<script>alert(1)</script>", "<b>chest</b>", "pain"))

	if len(ct.Words) != 2 {
		t.Fatalf("expected 2 words, got %d: %v", len(ct.Words), ct.Words)
	}
	if ct.Words[0].Text != "chest" || ct.Words[1].Text != "pain" {
		t.Errorf("words = %v", ct.Words)
	}
}

func TestClean_MedicalCorrections(t *testing.T) {
	ct := New(Options{}).Clean(transcriptOf("Diabetis", "and", "hypertention"))

	if ct.Words[0].Text != "Diabetes" {
		t.Errorf("word 0 = %q, want Diabetes (case preserved)", ct.Words[0].Text)
	}
	if ct.Words[2].Text != "hypertension" {
		t.Errorf("word 2 = %q, want hypertension", ct.Words[2].Text)
	}
}

func TestClean_CorrectionKeepsPunctuation(t *testing.T) {
	ct := New(Options{}).Clean(transcriptOf("hart,", "racing.", "(asma)"))

	want := []string{"heart,", "racing.", "(asthma)"}
	for i, w := range ct.Words {
		if w.Text != want[i] {
			t.Errorf("word %d = %q, want %q", i, w.Text, want[i])
		}
	}
	if ct.Text != "heart, racing. (asthma)" {
		t.Errorf("Text = %q", ct.Text)
	}
}

func TestClean_CustomOptions(t *testing.T) {
	s := New(Options{
		ExtraFillers:     []string{"like"},
		ExtraCorrections: map[string]string{"xray": "x-ray"},
	})
	ct := s.Clean(transcriptOf("like", "xray", "results"))

	if len(ct.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(ct.Words))
	}
	if ct.Words[0].Text != "x-ray" {
		t.Errorf("word 0 = %q, want x-ray", ct.Words[0].Text)
	}
}

func TestClean_Empty(t *testing.T) {
	ct := New(Options{}).Clean(&transcribe.Transcript{})
	if len(ct.Words) != 0 || ct.Text != "" {
		t.Errorf("empty transcript should clean to empty: %+v", ct)
	}
}
