package diarize

import (
	"testing"

	"github.com/snarg/scribe-engine/internal/sanitize"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// timedWords builds words from (text, start, end) triples.
func timedWords(t *testing.T, spec ...any) []transcribe.Word {
	t.Helper()
	if len(spec)%3 != 0 {
		t.Fatal("spec must be (text, start, end) triples")
	}
	var words []transcribe.Word
	for i := 0; i < len(spec); i += 3 {
		words = append(words, transcribe.Word{
			Text:       spec[i].(string),
			Start:      spec[i+1].(float64),
			End:        spec[i+2].(float64),
			Confidence: 0.9,
		})
	}
	return words
}

func cleaned(words []transcribe.Word) *sanitize.CleanedTranscript {
	return &sanitize.CleanedTranscript{Words: words}
}

func TestLabel_AlternatesOnGap(t *testing.T) {
	words := timedWords(t,
		"how", 0.0, 0.3,
		"are", 0.3, 0.5,
		"you", 0.5, 0.8,
		// 2s pause: speaker turn
		"fine", 2.8, 3.1,
		"thanks", 3.1, 3.5,
		// another pause
		"good", 6.0, 6.3,
	)

	dt, err := (&Labeler{}).Label(cleaned(words))
	if err != nil {
		t.Fatalf("Label: %v", err)
	}

	if len(dt.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(dt.Segments))
	}
	wantSpeakers := []string{"Doctor", "Patient", "Doctor"}
	for i, seg := range dt.Segments {
		if seg.Speaker != wantSpeakers[i] {
			t.Errorf("segment %d speaker = %q, want %q", i, seg.Speaker, wantSpeakers[i])
		}
	}
	if dt.Segments[0].Text != "how are you" {
		t.Errorf("segment 0 text = %q", dt.Segments[0].Text)
	}
}

func TestLabel_TotalAndNonOverlapping(t *testing.T) {
	words := timedWords(t,
		"a", 0.0, 0.2,
		"b", 0.3, 0.5,
		"c", 2.5, 2.8,
		"d", 2.9, 3.0,
		"e", 5.0, 5.2,
	)

	dt, err := (&Labeler{}).Label(cleaned(words))
	if err != nil {
		t.Fatalf("Label: %v", err)
	}

	// Union of segments covers every word exactly once, in order.
	if dt.WordCount() != len(words) {
		t.Fatalf("covered %d words, want %d", dt.WordCount(), len(words))
	}
	i := 0
	for _, seg := range dt.Segments {
		for _, w := range seg.Words {
			if w.Text != words[i].Text {
				t.Errorf("word %d = %q, want %q", i, w.Text, words[i].Text)
			}
			i++
		}
	}

	// No segment overlaps its successor.
	for j := 1; j < len(dt.Segments); j++ {
		if dt.Segments[j].Start < dt.Segments[j-1].End {
			t.Errorf("segment %d starts at %v before previous end %v",
				j, dt.Segments[j].Start, dt.Segments[j-1].End)
		}
	}
}

func TestLabel_SingleSegmentWithoutGaps(t *testing.T) {
	words := timedWords(t, "steady", 0.0, 0.5, "speech", 0.6, 1.0)

	dt, err := (&Labeler{}).Label(cleaned(words))
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if len(dt.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(dt.Segments))
	}
	if dt.Segments[0].Speaker != "Doctor" {
		t.Errorf("first speaker = %q, want Doctor", dt.Segments[0].Speaker)
	}
}

func TestLabel_CustomRolesAndGap(t *testing.T) {
	words := timedWords(t,
		"one", 0.0, 0.2,
		"two", 1.0, 1.2, // 0.8s gap: boundary only under the custom threshold
	)

	l := &Labeler{SilenceGap: 0.5, Roles: []string{"Patient", "Doctor"}}
	dt, err := l.Label(cleaned(words))
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if len(dt.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(dt.Segments))
	}
	if dt.Segments[0].Speaker != "Patient" || dt.Segments[1].Speaker != "Doctor" {
		t.Errorf("speakers = %q, %q", dt.Segments[0].Speaker, dt.Segments[1].Speaker)
	}
}

func TestLabel_Empty(t *testing.T) {
	dt, err := (&Labeler{}).Label(cleaned(nil))
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if len(dt.Segments) != 0 {
		t.Errorf("expected 0 segments, got %d", len(dt.Segments))
	}

	if _, err := (&Labeler{}).Label(nil); err == nil {
		t.Error("nil transcript should error")
	}
}
