// Package notify renders release notification messages.
//
// Message bodies live in embedded YAML templates, one file per key, so
// wording changes never touch executor or engine code. Rendering is
// plain {{name}} substitution; callers assemble any optional lines.
package notify

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Built-in template keys.
const (
	KeyKickoffReminder = "kickoff_reminder"
	KeyStageComplete   = "stage_complete"
	KeyTaskFailed      = "task_failed"
	KeyReleaseComplete = "release_complete"
	KeyAdHoc           = "ad_hoc"
)

// Variable declares one substitution slot in a template.
type Variable struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Required    bool   `yaml:"required"`
	Default     string `yaml:"default,omitempty"`
}

// Template is one notification message shape.
type Template struct {
	Key         string     `yaml:"-"`
	Description string     `yaml:"description,omitempty"`
	Variables   []Variable `yaml:"variables,omitempty"`
	Body        string     `yaml:"body"`
}

// Load returns the built-in template for key.
func Load(key string) (*Template, error) {
	data, err := builtinFS.ReadFile(fmt.Sprintf("builtin/%s.yaml", key))
	if err != nil {
		return nil, fmt.Errorf("notification template %q not found", key)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse notification template %s: %w", key, err)
	}
	t.Key = key
	return &t, nil
}

// Keys lists the built-in template keys, sorted.
func Keys() []string {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(entry.Name(), ".yaml"))
	}
	sort.Strings(keys)
	return keys
}

// Render loads the template for key and substitutes vars into its body.
func Render(key string, vars map[string]string) (string, error) {
	t, err := Load(key)
	if err != nil {
		return "", err
	}
	return t.Render(vars)
}

// Render substitutes vars into the template body. A missing required
// variable is an error; optional variables fall back to their declared
// default. Provided variables the template does not declare are ignored.
func (t *Template) Render(vars map[string]string) (string, error) {
	out := t.Body
	for _, v := range t.Variables {
		val, ok := vars[v.Name]
		if !ok {
			if v.Required {
				return "", fmt.Errorf("template %s: required variable %q not provided", t.Key, v.Name)
			}
			val = v.Default
		}
		out = strings.ReplaceAll(out, "{{"+v.Name+"}}", val)
	}
	return strings.TrimRight(out, "\n"), nil
}
