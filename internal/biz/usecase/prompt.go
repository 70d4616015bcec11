package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// RenderError reports a template failure. Fatal to the single event
// being rendered, never to the process.
type RenderError struct {
	Template string
	Reason   string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %s", e.Template, e.Reason)
}

// PromptRenderer renders preprompt templates loaded once from the
// template directory. Templates use {{name}} placeholders, with or
// without interior spaces; a placeholder left unfilled is a render
// error.
type PromptRenderer struct {
	templates map[string]string
}

var placeholderRe = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// NewPromptRenderer loads every .txt file in dir as a template keyed
// by its base name
func NewPromptRenderer(dir string) (*PromptRenderer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}

	templates := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		id := strings.TrimSuffix(entry.Name(), ".txt")
		templates[id] = string(data)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("no .txt templates in %s", dir)
	}

	return &PromptRenderer{templates: templates}, nil
}

// NewPromptRendererFromMap builds a renderer from in-memory
// templates. Test hook.
func NewPromptRendererFromMap(templates map[string]string) *PromptRenderer {
	return &PromptRenderer{templates: templates}
}

// Has reports whether a template is loaded
func (r *PromptRenderer) Has(templateID string) bool {
	_, ok := r.templates[templateID]
	return ok
}

// Render fills a template's placeholders from vars. An unknown
// template or an unfilled placeholder returns a RenderError.
func (r *PromptRenderer) Render(templateID string, vars map[string]string) (string, error) {
	tmpl, ok := r.templates[templateID]
	if !ok {
		return "", &RenderError{Template: templateID, Reason: "template not found"}
	}

	missing := ""
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		val, ok := vars[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return m
		}
		return val
	})

	if missing != "" {
		return "", &RenderError{Template: templateID, Reason: "missing variable " + missing}
	}
	return strings.TrimSpace(out), nil
}
