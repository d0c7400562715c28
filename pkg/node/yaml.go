package node

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/docker/contex/pkg/payload"
)

// YAMLParser decomposes a YAML document the same way JSONParser does: it
// decodes into the shared Payload sum and reuses walkStructured.
type YAMLParser struct{}

func (p *YAMLParser) Name() string  { return "yaml" }
func (p *YAMLParser) Priority() int { return 1 }

func (p *YAMLParser) CanParse(data []byte, formatHint string) bool {
	if formatHint == "yaml" || formatHint == "yml" {
		return true
	}
	if formatHint != "" {
		return false
	}
	var probe any
	if yaml.Unmarshal(data, &probe) != nil || bytes.TrimSpace(data) == nil {
		return false
	}
	// Almost any text is a valid YAML scalar document, so unhinted input
	// is only claimed when it decodes to a mapping or a sequence.
	switch probe.(type) {
	case map[string]any, map[any]any, []any:
		return true
	}
	return false
}

func (p *YAMLParser) Parse(data []byte) ParseResult {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return ParseResult{Success: false, Error: fmt.Errorf("yaml: %w", err)}
	}

	v := payload.FromAny(normalizeYAML(raw))
	var nodes []Node
	walkStructured("", v, &nodes, true)

	return ParseResult{
		Nodes:      nodes,
		FormatName: "yaml",
		Success:    true,
		Metadata:   map[string]string{"data_format": "yaml"},
	}
}

func (p *YAMLParser) Reconstruct(nodes []Node, targetFormat string) ([]byte, error) {
	return reconstructJSONLike(nodes, targetFormat)
}

// normalizeYAML converts map[any]any (which some yaml decoders produce for
// non-string keys) into map[string]any so payload.FromAny can handle it.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeYAML(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return t
	}
}
