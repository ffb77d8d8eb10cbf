// Package diarize assigns speaker labels to transcript segments using a
// silence-gap heuristic. Labels are a best-effort guess from turn-taking
// rhythm, not a verified speaker-identification result; downstream consumers
// must present them as such.
package diarize

import (
	"fmt"
	"strings"

	"github.com/snarg/scribe-engine/internal/sanitize"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// DefaultSilenceGap is the inter-word pause, in seconds, treated as a speaker
// turn boundary when no override is configured.
const DefaultSilenceGap = 1.5

// DefaultRoles is the default speaker label rotation: the first speaker is
// assumed to be the clinician.
var DefaultRoles = []string{"Doctor", "Patient"}

// Segment is a contiguous run of words attributed to one speaker.
type Segment struct {
	Speaker string            `json:"speaker"`
	Start   float64           `json:"start"`
	End     float64           `json:"end"`
	Text    string            `json:"text"`
	Words   []transcribe.Word `json:"words"`
}

// DiarizedTranscript is a CleanedTranscript partitioned into labeled
// segments. Segments never overlap, contain no gaps, and together cover every
// input word exactly once.
type DiarizedTranscript struct {
	Source   *sanitize.CleanedTranscript
	Segments []Segment
}

// Labeler segments a transcript on timing gaps and rotates speaker labels.
type Labeler struct {
	// SilenceGap is the pause length (seconds) above which a new segment
	// starts. Zero selects DefaultSilenceGap.
	SilenceGap float64

	// Roles is the label rotation order. Empty selects DefaultRoles.
	Roles []string
}

// Label partitions the cleaned transcript into speaker segments. Every word
// lands in exactly one segment; an empty transcript yields zero segments.
func (l *Labeler) Label(ct *sanitize.CleanedTranscript) (*DiarizedTranscript, error) {
	if ct == nil {
		return nil, fmt.Errorf("diarize: nil transcript")
	}

	gap := l.SilenceGap
	if gap <= 0 {
		gap = DefaultSilenceGap
	}
	roles := l.Roles
	if len(roles) == 0 {
		roles = DefaultRoles
	}

	dt := &DiarizedTranscript{Source: ct}
	if len(ct.Words) == 0 {
		return dt, nil
	}

	var runs [][]transcribe.Word
	current := []transcribe.Word{ct.Words[0]}
	for _, w := range ct.Words[1:] {
		prev := current[len(current)-1]
		if w.Start-prev.End > gap {
			runs = append(runs, current)
			current = nil
		}
		current = append(current, w)
	}
	runs = append(runs, current)

	dt.Segments = make([]Segment, len(runs))
	for i, run := range runs {
		parts := make([]string, len(run))
		for j, w := range run {
			parts[j] = w.Text
		}
		dt.Segments[i] = Segment{
			Speaker: roles[i%len(roles)],
			Start:   run[0].Start,
			End:     run[len(run)-1].End,
			Text:    strings.Join(parts, " "),
			Words:   run,
		}
	}

	return dt, nil
}

// WordCount returns the total number of words across all segments.
func (dt *DiarizedTranscript) WordCount() int {
	n := 0
	for _, s := range dt.Segments {
		n += len(s.Words)
	}
	return n
}
