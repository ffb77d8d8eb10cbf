package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// CleanedTranscript is a sanitized view of exactly one upstream Transcript.
// Word order and confidence values are carried through unchanged; filler
// tokens are dropped, medical terms corrected, and markup stripped.
type CleanedTranscript struct {
	Source *transcribe.Transcript
	Text   string
	Words  []transcribe.Word
}

// LowConfidenceWords returns the words whose recognizer confidence is known
// and falls below the threshold. Words marked ConfidenceUnknown are excluded
// rather than treated as low.
func (ct *CleanedTranscript) LowConfidenceWords(threshold float64) []transcribe.Word {
	var out []transcribe.Word
	for _, w := range ct.Words {
		if w.Confidence >= 0 && w.Confidence < threshold {
			out = append(out, w)
		}
	}
	return out
}

// defaultFillers are discourse tokens dropped from transcripts. Matching is
// case-insensitive on the bare token (punctuation trimmed).
var defaultFillers = []string{
	"um", "uh", "umm", "uhh", "erm", "hmm", "mhm", "mm-hmm", "uh-huh",
}

// defaultCorrections fixes recognizer misspellings of common medical terms.
var defaultCorrections = map[string]string{
	"hart":          "heart",
	"asma":          "asthma",
	"azma":          "asthma",
	"diabetis":      "diabetes",
	"diabeetus":     "diabetes",
	"newmonia":      "pneumonia",
	"numonia":       "pneumonia",
	"hypertention":  "hypertension",
	"colesterol":    "cholesterol",
	"migrane":       "migraine",
	"ibuprofin":     "ibuprofen",
	"acetametaphin": "acetaminophen",
}

// Options configures a Sanitizer. Zero values select the documented defaults.
type Options struct {
	ExtraFillers     []string          // appended to the built-in filler list
	ExtraCorrections map[string]string // merged over the built-in corrections
}

// Sanitizer normalizes raw transcript text. It is pure and total: Clean never
// fails and never mutates its input.
type Sanitizer struct {
	policy      *bluemonday.Policy
	fillers     map[string]bool
	corrections map[string]string
}

// New creates a Sanitizer with the strict HTML policy (no tags survive).
func New(opts Options) *Sanitizer {
	fillers := make(map[string]bool, len(defaultFillers)+len(opts.ExtraFillers))
	for _, f := range defaultFillers {
		fillers[f] = true
	}
	for _, f := range opts.ExtraFillers {
		fillers[strings.ToLower(strings.TrimSpace(f))] = true
	}

	corrections := make(map[string]string, len(defaultCorrections)+len(opts.ExtraCorrections))
	for k, v := range defaultCorrections {
		corrections[k] = v
	}
	for k, v := range opts.ExtraCorrections {
		corrections[strings.ToLower(k)] = v
	}

	return &Sanitizer{
		policy:      bluemonday.StrictPolicy(),
		fillers:     fillers,
		corrections: corrections,
	}
}

// Clean derives a CleanedTranscript from a Transcript: markup is stripped via
// the allow-list policy, filler tokens removed, and term corrections applied
// in place. Surviving words keep their order, timing, and confidence.
func (s *Sanitizer) Clean(t *transcribe.Transcript) *CleanedTranscript {
	words := make([]transcribe.Word, 0, len(t.Words))
	for _, w := range t.Words {
		text := strings.TrimSpace(s.policy.Sanitize(w.Text))
		if text == "" {
			continue
		}
		if s.fillers[bareToken(text)] {
			continue
		}
		if fixed, ok := s.corrections[bareToken(text)]; ok {
			text = replaceToken(text, fixed)
		}
		w.Text = text
		words = append(words, w)
	}

	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}

	return &CleanedTranscript{
		Source: t,
		Text:   strings.Join(parts, " "),
		Words:  words,
	}
}

const punctuation = ".,;:!?\"'()"

// bareToken lowercases a word and trims surrounding punctuation so "Um," and
// "um" normalize identically.
func bareToken(s string) string {
	return strings.ToLower(strings.Trim(s, punctuation))
}

// replaceToken substitutes the corrected term for the bare token, keeping the
// original's surrounding punctuation and leading capitalization.
func replaceToken(original, fixed string) string {
	core := strings.Trim(original, punctuation)
	if core == "" {
		return original
	}
	i := strings.Index(original, core)
	return original[:i] + restoreCase(core, fixed) + original[i+len(core):]
}

// restoreCase re-applies leading capitalization from the original token to a
// corrected replacement.
func restoreCase(original, fixed string) string {
	if original == "" || fixed == "" {
		return fixed
	}
	if original[0] >= 'A' && original[0] <= 'Z' {
		return strings.ToUpper(fixed[:1]) + fixed[1:]
	}
	return fixed
}
