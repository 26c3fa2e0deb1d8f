package notify

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	engine "restroom-cloud/internal/engine/domain"
)

const summaryBlock = `Bau: {{.Odor}}
Air: {{.Water}}
Sabun: {{.Soap}}
Tisu: {{.Tissue}}`

// Default templates per notice kind.
var DefaultTemplates = map[engine.NoticeKind]string{
	engine.NoticeNewIncident: `[PERINGATAN] {{.DeviceID}} (Lantai {{.Floor}})
Kondisi: {{.ConditionText}}
` + summaryBlock + `
Waktu: {{.Time}}`,
	engine.NoticeReminder: `[PENGINGAT {{.ReminderNumber}}] {{.DeviceID}} (Lantai {{.Floor}})
Kondisi masih aktif: {{.ConditionText}}
Sejak: {{.AlertStartedAt}}
` + summaryBlock + `
Waktu: {{.Time}}`,
	engine.NoticeRecovery: `[PULIH] {{.DeviceID}} (Lantai {{.Floor}}) kembali normal
` + summaryBlock + `
Waktu: {{.Time}}`,
	engine.NoticeRoutine: `[LAPORAN RUTIN] {{.DeviceID}} (Lantai {{.Floor}})
` + summaryBlock + `
Waktu: {{.Time}}`,
}

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Kind           string
	DeviceID       string
	Floor          int
	Conditions     []string
	ConditionText  string
	Odor           string
	Water          string
	Soap           string
	Tissue         string
	Time           string
	AlertStartedAt string
	ReminderNumber int
}

// Templates renders notification content per notice kind.
type Templates struct {
	byKind map[engine.NoticeKind]*template.Template
}

// NewTemplates parses the default templates, replacing any kind present in overrides.
func NewTemplates(overrides map[engine.NoticeKind]string) (*Templates, error) {
	t := &Templates{byKind: make(map[engine.NoticeKind]*template.Template, len(DefaultTemplates))}
	for kind, text := range DefaultTemplates {
		if override, ok := overrides[kind]; ok && override != "" {
			text = override
		}
		parsed, err := template.New(string(kind)).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("notify template %s: %w", kind, err)
		}
		t.byKind[kind] = parsed
	}
	return t, nil
}

// Render applies the template of kind to data.
func (t *Templates) Render(kind engine.NoticeKind, data TemplateData) (string, error) {
	if t == nil {
		return "", errors.New("notify template: nil")
	}
	tpl, ok := t.byKind[kind]
	if !ok {
		return "", fmt.Errorf("notify template: unknown kind %q", kind)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
