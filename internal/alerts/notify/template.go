package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[{{.SeverityLabel}} Alert]
House: {{.HouseID}}
Device: {{.DeviceID}}
Event: {{.Type}}
Severity: {{.Severity}}
Score: {{.Score}}
Occurred: {{.OccurredAt}}
{{ if .Message }}Message: {{.Message}}
{{ end }}Suggestion: {{.Suggestion}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	HouseID       string
	DeviceID      string
	Type          string
	Severity      string
	SeverityLabel string
	Score         string
	OccurredAt    string
	Message       string
	Suggestion    string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
