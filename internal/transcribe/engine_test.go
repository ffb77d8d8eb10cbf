package transcribe

import (
	"errors"
	"math"
	"testing"
)

func TestFabricateTimings(t *testing.T) {
	words := fabricateTimings("patient reports mild headache", 8.0)

	if len(words) != 4 {
		t.Fatalf("expected 4 words, got %d", len(words))
	}

	// Monotonically increasing, spanning the full duration.
	prevEnd := 0.0
	for i, w := range words {
		if w.Start != prevEnd {
			t.Errorf("word %d: start %v, want %v (no gaps)", i, w.Start, prevEnd)
		}
		if w.End <= w.Start {
			t.Errorf("word %d: end %v <= start %v", i, w.End, w.Start)
		}
		if w.Confidence != ConfidenceUnknown {
			t.Errorf("word %d: confidence %v, want ConfidenceUnknown", i, w.Confidence)
		}
		prevEnd = w.End
	}
	if math.Abs(prevEnd-8.0) > 1e-9 {
		t.Errorf("last end = %v, want 8.0", prevEnd)
	}
}

func TestFabricateTimings_Empty(t *testing.T) {
	if words := fabricateTimings("", 5.0); words != nil {
		t.Errorf("expected nil for empty text, got %v", words)
	}
	if words := fabricateTimings("   ", 5.0); words != nil {
		t.Errorf("expected nil for whitespace text, got %v", words)
	}
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"server error", 500, ErrUnavailable},
		{"bad gateway", 502, ErrUnavailable},
		{"rate limited", 429, ErrUnavailable},
		{"unsupported media", 415, ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyHTTPError(nil, tt.status, "detail")
			if !errors.Is(err, tt.want) {
				t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
			}
		})
	}

	// 400 is neither transient nor a format error: surfaced as-is.
	err := classifyHTTPError(nil, 400, "bad request")
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("400 should not match a sentinel: %v", err)
	}
}
