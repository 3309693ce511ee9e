package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[{{.EventLabel}}]
Patient: {{.UserID}}
Rule: {{.RuleID}}
Severity: {{.Severity}}
{{.Message}}
Readings: {{.Readings}}
Raised: {{.CreatedAt}}
Status: {{.Status}}
{{ if .Step }}Step: {{.Step}} via {{.Method}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	UserID     string
	RuleID     string
	Severity   string
	Message    string
	Readings   string
	CreatedAt  string
	Status     string
	Step       string
	Method     string
	Event      string
	EventLabel string
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
