// Package render writes resolved properties in the formats applications
// consume: Java properties, nested YAML, flat JSON, dotenv and Go templates.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/systmms/vaultconfig/internal/logging"
)

// Supported formats
const (
	FormatProperties = "properties"
	FormatYAML       = "yaml"
	FormatJSON       = "json"
	FormatDotenv     = "dotenv"
	FormatTemplate   = "template"
)

// Formats lists the formats accepted by Render
var Formats = []string{FormatProperties, FormatYAML, FormatJSON, FormatDotenv, FormatTemplate}

// Renderer turns property maps into files
type Renderer struct {
	logger *logging.Logger
}

// New creates a renderer
func New(logger *logging.Logger) *Renderer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Renderer{logger: logger}
}

// Options configures a render
type Options struct {
	Format      string            // empty means detect from OutputPath
	Properties  map[string]string // flat property keys
	OutputPath  string            // empty writes nothing, see Bytes
	Template    string            // template body for FormatTemplate
	Permissions os.FileMode       // defaults to 0600
}

// DetectFormat maps a file name to a format, defaulting to properties
func DetectFormat(path string) string {
	base := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".env":
		return FormatDotenv
	case ".tmpl", ".tpl":
		return FormatTemplate
	}
	if strings.HasPrefix(base, ".env") {
		return FormatDotenv
	}
	return FormatProperties
}

// Bytes renders properties without writing a file
func (r *Renderer) Bytes(opts Options) ([]byte, error) {
	format := opts.Format
	if format == "" {
		format = DetectFormat(opts.OutputPath)
	}

	switch format {
	case FormatProperties:
		return Properties(opts.Properties), nil
	case FormatYAML:
		return YAML(opts.Properties)
	case FormatJSON:
		return JSON(opts.Properties)
	case FormatDotenv:
		return Dotenv(opts.Properties), nil
	case FormatTemplate:
		return r.executeTemplate(opts.Template, opts.Properties)
	}
	return nil, fmt.Errorf("unsupported format %q (use one of: %s)", format, strings.Join(Formats, ", "))
}

// Render writes the rendered properties to opts.OutputPath
func (r *Renderer) Render(opts Options) error {
	if opts.OutputPath == "" {
		return fmt.Errorf("output path is required")
	}
	content, err := r.Bytes(opts)
	if err != nil {
		return err
	}

	perms := opts.Permissions
	if perms == 0 {
		perms = 0o600
	}
	if dir := filepath.Dir(opts.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(opts.OutputPath, content, perms); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.OutputPath, err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(opts.OutputPath, perms); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", opts.OutputPath, err)
	}

	r.logger.Info("Wrote %d properties to %s", len(opts.Properties), opts.OutputPath)
	return nil
}

func sortedKeys(props map[string]string) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Properties renders key=value lines with Java properties escaping
func Properties(props map[string]string) []byte {
	var buf bytes.Buffer
	for _, k := range sortedKeys(props) {
		buf.WriteString(escapeProperty(k, true))
		buf.WriteByte('=')
		buf.WriteString(escapeProperty(props[k], false))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func escapeProperty(s string, key bool) string {
	var b strings.Builder
	for i, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '=', ':', '#', '!', ' ':
			if key || i == 0 {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		default:
			if r > 0xffff {
				r1, r2 := utf16.EncodeRune(r)
				fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
				continue
			}
			if r > 0x7e {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// JSON renders a flat, sorted JSON object
func JSON(props map[string]string) ([]byte, error) {
	if props == nil {
		props = map[string]string{}
	}
	out, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// EnvName converts a property key to an environment variable name:
// upper case with '.', '-' and list brackets turned into '_'.
func EnvName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ']':
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EnvMap converts property keys with EnvName. When two keys map to the same
// name the lexically first key wins.
func EnvMap(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for _, k := range sortedKeys(props) {
		name := EnvName(k)
		if _, taken := out[name]; !taken {
			out[name] = props[k]
		}
	}
	return out
}

// Dotenv renders NAME=value lines, quoting values where a shell or dotenv
// parser would otherwise split or expand them
func Dotenv(props map[string]string) []byte {
	env := EnvMap(props)
	var buf bytes.Buffer
	for _, name := range sortedKeys(env) {
		buf.WriteString(name)
		buf.WriteByte('=')
		buf.WriteString(quoteDotenv(env[name]))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func quoteDotenv(v string) string {
	if v == "" {
		return ""
	}
	if !strings.ContainsAny(v, " \t\n\r\"'`$#\\=") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "$", `\$`, "`", "\\`")
	return `"` + r.Replace(v) + `"`
}
