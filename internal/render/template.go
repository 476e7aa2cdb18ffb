package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// templateData is the dot value of a property template
type templateData struct {
	Properties map[string]string
	Env        map[string]string
}

// executeTemplate renders body with the resolved properties. Missing keys
// are errors so a typo never renders an empty secret.
func (r *Renderer) executeTemplate(body string, props map[string]string) ([]byte, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("template format requires a template")
	}
	if props == nil {
		props = map[string]string{}
	}

	tmpl, err := template.New("properties").
		Option("missingkey=error").
		Funcs(r.funcMap(props)).
		Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	data := templateData{Properties: props, Env: EnvMap(props)}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) funcMap(props map[string]string) template.FuncMap {
	return template.FuncMap{
		"get": func(key string) (string, error) {
			v, ok := props[key]
			if !ok {
				return "", fmt.Errorf("property %q is not defined", key)
			}
			return v, nil
		},
		"getOr": func(key, fallback string) string {
			if v, ok := props[key]; ok {
				return v
			}
			return fallback
		},
		"has": func(key string) bool {
			_, ok := props[key]
			return ok
		},
		"json": func(v interface{}) (string, error) {
			out, err := r.marshalJSON(v)
			return string(out), err
		},
		"base64encode": r.base64Encode,
		"base64decode": r.base64Decode,
		"indent":       r.indent,
		"sha256":       r.sha256Hash,
		"envName":      EnvName,
		"upper":        strings.ToUpper,
		"lower":        strings.ToLower,
	}
}

func (r *Renderer) marshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func (r *Renderer) base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func (r *Renderer) base64Decode(s string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// indent prefixes every line except a trailing empty one
func (r *Renderer) indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" && i == len(lines)-1 {
			continue
		}
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) sha256Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)
}
