// Copyright 2025 Arcade Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultTemplate renders a short human readable status line.
const DefaultTemplate = `{{ status .Status }} *{{ .Repository }}* ` +
	"`{{ .Branch }}`@`{{ short .Commit }}`" + `{{ if .Author }} by {{ .Author }}{{ end }}` +
	`{{ if .ArtifactTag }}
Artifact: {{ .ArtifactTag }}{{ end }}{{ if .Environments }}
Environments: {{ join .Environments ", " }}{{ end }}{{ if .Error }}
{{ .ErrorKind }}: {{ .Error }}{{ end }}{{ range .Reports }}
<{{ .URL }}|{{ .Name }}>{{ end }}`

// Renderer renders events through text/template.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer(text string) (*Renderer, error) {
	if text == "" {
		text = DefaultTemplate
	}
	title := cases.Title(language.English)
	funcs := template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": title.String,
		"join":  strings.Join,
		"short": func(s string) string {
			if len(s) > 7 {
				return s[:7]
			}
			return s
		},
		"status": func(s string) string {
			switch s {
			case "succeeded":
				return ":white_check_mark: " + title.String(s)
			case "failed":
				return ":x: " + title.String(s)
			case "cancelled":
				return ":no_entry_sign: " + title.String(s)
			default:
				return title.String(s)
			}
		},
	}
	tmpl, err := template.New("notification").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse notification template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Render(ev Event) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, ev); err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return buf.String(), nil
}
