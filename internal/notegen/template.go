package notegen

import (
	"encoding/json"
	"fmt"
	"os"
)

// Template describes the structure a generated note must follow.
type Template struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Sections []string `json:"sections"`
	Prompt   string   `json:"prompt"`
}

// Conform maps arbitrary sections onto this template's declared section set:
// every declared section present exactly once, in order, empty when absent
// from the input.
func (t *Template) Conform(sections []Section) []Section {
	return conformSections(t, sections)
}

// SOAPTemplate is the built-in default used when no template file is
// configured or a requested ID is unknown.
var SOAPTemplate = &Template{
	ID:       "soap",
	Name:     "SOAP Note",
	Version:  "1.0",
	Sections: []string{"Subjective", "Objective", "Assessment", "Plan"},
	Prompt: "You are a clinical scribe. From the conversation transcript, write a SOAP note. " +
		"Output each section as a markdown header (## Subjective, ## Objective, ## Assessment, ## Plan) " +
		"followed by its content. Include only information stated in the transcript; leave a section " +
		"blank if the transcript contains nothing for it.",
}

// Registry holds the available note templates keyed by ID. The built-in SOAP
// template is always present.
type Registry struct {
	templates map[string]*Template
	order     []string
}

// NewRegistry creates a registry seeded with the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*Template)}
	r.add(SOAPTemplate)
	return r
}

// LoadFile merges templates from a JSON file (an array of Template objects)
// into the registry. A file template with a built-in ID replaces it.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading templates: %w", err)
	}

	var loaded []*Template
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing templates: %w", err)
	}

	for _, t := range loaded {
		if t.ID == "" {
			return fmt.Errorf("template %q missing id", t.Name)
		}
		if len(t.Sections) == 0 {
			return fmt.Errorf("template %q declares no sections", t.ID)
		}
		r.add(t)
	}
	return nil
}

// Get returns the template with the given ID. An empty ID selects the
// built-in SOAP template.
func (r *Registry) Get(id string) (*Template, error) {
	if id == "" {
		id = SOAPTemplate.ID
	}
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", id)
	}
	return t, nil
}

// List returns all templates in registration order.
func (r *Registry) List() []*Template {
	out := make([]*Template, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.templates[id])
	}
	return out
}

func (r *Registry) add(t *Template) {
	if _, seen := r.templates[t.ID]; !seen {
		r.order = append(r.order, t.ID)
	}
	r.templates[t.ID] = t
}
