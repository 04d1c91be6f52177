// Package prompts holds the oracle prompt catalogue. Defaults are embedded;
// an optional YAML file may replace individual entries.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalogueYAML []byte

const (
	Evidence = "evidence"
	Classify = "classify"
	OnTrack  = "on_track"
	Reminder = "reminder"
	Progress = "progress"
)

type catalogueYAML struct {
	System   string `yaml:"system"`
	Evidence string `yaml:"evidence"`
	Classify string `yaml:"classify"`
	OnTrack  string `yaml:"on_track"`
	Reminder string `yaml:"reminder"`
	Progress string `yaml:"progress"`
}

type EvidenceData struct {
	Kind   string // "photo" or "report"
	Text   string
	Window int
	Date   string
}

type ClassifyData struct {
	Text string
}

type OnTrackData struct {
	Habit  string
	Window int
	Events string
}

type ReminderData struct {
	Items string
}

type ProgressData struct {
	Habits string
	Window int
	Events string
}

type Catalogue struct {
	system    string
	templates map[string]*template.Template
}

// Load parses the embedded defaults and, when path is set, overlays the
// non-empty entries of that file.
func Load(path string) (*Catalogue, error) {
	var raw catalogueYAML
	if err := yaml.Unmarshal(defaultCatalogueYAML, &raw); err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompts file: %w", err)
		}

		var override catalogueYAML
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("parse prompts file %s: %w", path, err)
		}
		raw = merge(raw, override)
	}

	return build(raw)
}

// Default returns the embedded catalogue and panics if it does not parse.
func Default() *Catalogue {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

func merge(base, override catalogueYAML) catalogueYAML {
	pick := func(b, o string) string {
		if strings.TrimSpace(o) != "" {
			return o
		}
		return b
	}

	return catalogueYAML{
		System:   pick(base.System, override.System),
		Evidence: pick(base.Evidence, override.Evidence),
		Classify: pick(base.Classify, override.Classify),
		OnTrack:  pick(base.OnTrack, override.OnTrack),
		Reminder: pick(base.Reminder, override.Reminder),
		Progress: pick(base.Progress, override.Progress),
	}
}

func build(raw catalogueYAML) (*Catalogue, error) {
	sources := map[string]string{
		Evidence: raw.Evidence,
		Classify: raw.Classify,
		OnTrack:  raw.OnTrack,
		Reminder: raw.Reminder,
		Progress: raw.Progress,
	}

	c := &Catalogue{
		system:    strings.TrimSpace(raw.System),
		templates: make(map[string]*template.Template, len(sources)),
	}

	for name, src := range sources {
		if strings.TrimSpace(src) == "" {
			return nil, fmt.Errorf("prompt %q is empty", name)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse prompt %q: %w", name, err)
		}
		c.templates[name] = tmpl
	}

	return c, nil
}

func (c *Catalogue) System() string {
	return c.system
}

func (c *Catalogue) Render(name string, data any) (string, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}

	return strings.TrimSpace(sb.String()), nil
}
