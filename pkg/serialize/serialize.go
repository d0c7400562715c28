// Package serialize renders the output envelopes (initial_context,
// data_update, event) and ad-hoc query responses in the subscriber's
// requested format: TOON (default), JSON, YAML, TOML, CSV, XML, Markdown
// or plain text.
package serialize

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/alpkeskin/gotoon"
	yaml "github.com/goccy/go-yaml"
)

// Format names one of the enumerated output serializations.
type Format string

const (
	FormatTOON     Format = "toon"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatTOML     Format = "toml"
	FormatCSV      Format = "csv"
	FormatXML      Format = "xml"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// ParseFormat normalizes a format name, defaulting to TOON for an empty or
// unrecognized value.
func ParseFormat(s string) Format {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON
	case FormatYAML:
		return FormatYAML
	case FormatTOML:
		return FormatTOML
	case FormatCSV:
		return FormatCSV
	case FormatXML:
		return FormatXML
	case FormatMarkdown:
		return FormatMarkdown
	case FormatText:
		return FormatText
	default:
		return FormatTOON
	}
}

// Encode renders v (always a JSON-marshalable map/slice/scalar tree —
// the envelope shapes of §6) in the requested format. Per the §9 design
// note, TOON is best-effort: an encode failure falls back to JSON rather
// than failing the delivery.
func Encode(format Format, v any) ([]byte, error) {
	switch format {
	case FormatTOON:
		return encodeTOON(v)
	case FormatYAML:
		return encodeYAML(v)
	case FormatTOML:
		return encodeTOML(v)
	case FormatCSV:
		return encodeCSV(v)
	case FormatXML:
		return encodeXML(v)
	case FormatMarkdown:
		return encodeMarkdown(v), nil
	case FormatText:
		return encodeText(v), nil
	default:
		return encodeJSON(v)
	}
}

func encodeJSON(v any) ([]byte, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize: json: %w", err)
	}
	return buf, nil
}

// encodeTOON calls gotoon exactly as the teacher's pkg/teamloader/toon.go
// does: gotoon.Encode(map[string]any). Any other shape, or an encode
// error, falls back to JSON — TOON is never a hard dependency for
// correctness (§9 resolved open question).
func encodeTOON(v any) ([]byte, error) {
	m, ok := asMap(v)
	if !ok {
		return encodeJSON(v)
	}
	s, err := gotoon.Encode(m)
	if err != nil {
		slog.Warn("serialize: toon encode failed, falling back to json", "error", err)
		return encodeJSON(v)
	}
	return []byte(s), nil
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func encodeYAML(v any) ([]byte, error) {
	buf, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize: yaml: %w", err)
	}
	return buf, nil
}

func encodeTOML(v any) ([]byte, error) {
	m, ok := asMap(v)
	if !ok {
		m = map[string]any{"value": v}
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("serialize: toml: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeXML wraps v's map representation in a single root element, since
// encoding/xml cannot marshal a bare map[string]any.
func encodeXML(v any) ([]byte, error) {
	m, ok := asMap(v)
	if !ok {
		buf, err := xml.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("serialize: xml: %w", err)
		}
		return buf, nil
	}
	buf, err := xml.MarshalIndent(xmlElement{Fields: xmlFields(m)}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize: xml: %w", err)
	}
	return buf, nil
}

type xmlElement struct {
	XMLName xml.Name   `xml:"envelope"`
	Fields  []xmlField `xml:",any"`
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func xmlFields(m map[string]any) []xmlField {
	keys := sortedKeys(m)
	fields := make([]xmlField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, xmlField{XMLName: xml.Name{Local: sanitizeXMLName(k)}, Value: fmt.Sprint(m[k])})
	}
	return fields
}

func sanitizeXMLName(s string) string {
	if s == "" {
		return "field"
	}
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == ':' {
			return '_'
		}
		return r
	}, s)
}

// encodeCSV flattens a map's top-level scalar fields into a two-column
// key,value table; it is a best-effort tabular rendering, not intended to
// round-trip structured envelopes.
func encodeCSV(v any) ([]byte, error) {
	m, ok := asMap(v)
	if !ok {
		return []byte(fmt.Sprint(v)), nil
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"key", "value"}); err != nil {
		return nil, fmt.Errorf("serialize: csv: %w", err)
	}
	for _, k := range sortedKeys(m) {
		if err := w.Write([]string{k, fmt.Sprint(m[k])}); err != nil {
			return nil, fmt.Errorf("serialize: csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("serialize: csv: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeMarkdown(v any) []byte {
	m, ok := asMap(v)
	if !ok {
		return []byte(fmt.Sprintf("```\n%v\n```\n", v))
	}
	var b strings.Builder
	for _, k := range sortedKeys(m) {
		fmt.Fprintf(&b, "- **%s**: %v\n", k, m[k])
	}
	return []byte(b.String())
}

func encodeText(v any) []byte {
	m, ok := asMap(v)
	if !ok {
		return []byte(fmt.Sprint(v))
	}
	var b strings.Builder
	for _, k := range sortedKeys(m) {
		fmt.Fprintf(&b, "%s: %v\n", k, m[k])
	}
	return []byte(b.String())
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
