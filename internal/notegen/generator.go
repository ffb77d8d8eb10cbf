package notegen

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/snarg/scribe-engine/internal/diarize"
)

// Generator is the interface for note-generation backends.
type Generator interface {
	Generate(ctx context.Context, transcript *diarize.DiarizedTranscript, tmpl *Template) (*Note, error)
	Name() string  // "azure_openai", "bridge"
	Model() string // model/deployment identifier for logs/exports
}

// Sentinel errors shared by all generator variants.
var (
	// ErrUnavailable means the generation service is unreachable or timed
	// out. Transient; eligible for retry.
	ErrUnavailable = errors.New("note generation unavailable")

	// ErrTemplateMismatch means the template declares sections the backend
	// cannot populate. Not retried.
	ErrTemplateMismatch = errors.New("template mismatch")
)

// Section is one named block of a generated note.
type Section struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Note is a structured clinical note. It carries exactly the section set of
// its template, in declared order; a section the backend could not fill is
// present with empty text. Notes are immutable: a manual edit produces a new
// Version rather than mutating in place.
type Note struct {
	TemplateID  string    `json:"template_id"`
	Sections    []Section `json:"sections"`
	GeneratedAt time.Time `json:"generated_at"`
	Backend     string    `json:"backend"`
	Model       string    `json:"model"`
	Version     int       `json:"version"`
}

// Section returns the text of the named section and whether it exists.
func (n *Note) Section(name string) (string, bool) {
	for _, s := range n.Sections {
		if strings.EqualFold(s.Name, name) {
			return s.Text, true
		}
	}
	return "", false
}

// conformSections maps backend output onto the template's declared section
// set: every template section appears exactly once, in declared order, empty
// when the backend produced nothing for it. Extraneous backend sections are
// dropped.
func conformSections(tmpl *Template, got []Section) []Section {
	byName := make(map[string]string, len(got))
	for _, s := range got {
		byName[strings.ToLower(strings.TrimSpace(s.Name))] = strings.TrimSpace(s.Text)
	}

	out := make([]Section, len(tmpl.Sections))
	for i, name := range tmpl.Sections {
		out[i] = Section{Name: name, Text: byName[strings.ToLower(name)]}
	}
	return out
}

// RenderTranscript flattens a diarized transcript into speaker-prefixed lines
// for prompting.
func RenderTranscript(dt *diarize.DiarizedTranscript) string {
	var b strings.Builder
	for _, seg := range dt.Segments {
		b.WriteString(seg.Speaker)
		b.WriteString(": ")
		b.WriteString(seg.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// parseSections extracts template sections from free-form model output.
// Recognized headers: "## Name", "Name:", or "**Name:**" at line start,
// matched case-insensitively against the template's section names. Text
// before the first recognized header is attributed to the first section.
func parseSections(tmpl *Template, text string) []Section {
	known := make(map[string]string, len(tmpl.Sections))
	for _, name := range tmpl.Sections {
		known[strings.ToLower(name)] = name
	}

	sections := make(map[string]*strings.Builder)
	current := ""
	if len(tmpl.Sections) > 0 {
		current = tmpl.Sections[0]
	}

	for _, line := range strings.Split(text, "\n") {
		if name, rest, ok := matchHeader(line, known); ok {
			current = name
			if rest != "" {
				appendLine(sections, current, rest)
			}
			continue
		}
		if current != "" {
			appendLine(sections, current, line)
		}
	}

	var out []Section
	for name, b := range sections {
		out = append(out, Section{Name: name, Text: strings.TrimSpace(b.String())})
	}
	return out
}

// matchHeader reports whether a line is a section header for one of the known
// names, returning the canonical name and any trailing same-line content.
func matchHeader(line string, known map[string]string) (string, string, bool) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimLeft(trimmed, "#")
	trimmed = strings.TrimSpace(strings.Trim(trimmed, "*"))

	head, rest, found := strings.Cut(trimmed, ":")
	if !found {
		head, rest = trimmed, ""
	}
	name, ok := known[strings.ToLower(strings.TrimSpace(head))]
	if !ok {
		return "", "", false
	}
	return name, strings.TrimSpace(strings.Trim(rest, "*")), true
}

func appendLine(sections map[string]*strings.Builder, name, line string) {
	b, ok := sections[name]
	if !ok {
		b = &strings.Builder{}
		sections[name] = b
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(line)
}
