package node

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/docker/contex/pkg/payload"
)

// JSONParser decomposes a JSON document into Nodes. A top-level object
// becomes one "record-shaped" object node plus one node per field
// (recording arrays-of-objects as one node per element, and scalar/array
// leaves as their own primitive/array nodes); a top-level array of objects
// expands to one object node per element.
type JSONParser struct{}

func (p *JSONParser) Name() string  { return "json" }
func (p *JSONParser) Priority() int { return 0 }

func (p *JSONParser) CanParse(data []byte, formatHint string) bool {
	if formatHint == "json" {
		return true
	}
	if formatHint != "" {
		return false
	}
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func (p *JSONParser) Parse(data []byte) ParseResult {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return ParseResult{Success: false, Error: fmt.Errorf("json: %w", err)}
	}

	v := fromJSONAny(raw)
	var nodes []Node
	walkStructured("", v, &nodes, true)

	return ParseResult{
		Nodes:      nodes,
		FormatName: "json",
		Success:    true,
		Metadata:   map[string]string{"data_format": "json"},
	}
}

func (p *JSONParser) Reconstruct(nodes []Node, targetFormat string) ([]byte, error) {
	return reconstructJSONLike(nodes, targetFormat)
}

// fromJSONAny converts the output of a json.Decoder (which uses
// json.Number for numerics when UseNumber is set) into the Payload sum.
func fromJSONAny(v any) payload.Value {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return payload.Str(t.String())
		}
		return payload.Num(f)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return payload.FromAny(convertMap(t))
	case []any:
		items := make([]any, len(t))
		for i, e := range t {
			items[i] = convertAny(e)
		}
		return payload.FromAny(items)
	default:
		return payload.FromAny(v)
	}
}

func convertAny(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		return convertMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = convertAny(e)
		}
		return out
	default:
		return v
	}
}

func convertMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = convertAny(v)
	}
	return out
}

// walkStructured is shared by the JSON and YAML parsers: both decode into
// the same Payload sum and decompose it identically.
func walkStructured(path string, v payload.Value, out *[]Node, emitRoot bool) {
	switch v.Kind() {
	case payload.KindObject:
		fields, keys := v.Object()
		if emitRoot {
			*out = append(*out, Node{Path: path, Content: v, NodeType: TypeObject})
		}
		for _, k := range keys {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			walkStructured(childPath, fields[k], out, true)
		}
	case payload.KindArray:
		items := v.Array()
		allObjects := len(items) > 0
		for _, item := range items {
			if item.Kind() != payload.KindObject {
				allObjects = false
				break
			}
		}
		if allObjects {
			for i, item := range items {
				childPath := fmt.Sprintf("%s[%d]", path, i)
				walkStructured(childPath, item, out, true)
			}
			return
		}
		*out = append(*out, Node{Path: path, Content: v, NodeType: TypeArray})
	default:
		*out = append(*out, Node{Path: path, Content: v, NodeType: TypePrimitive})
	}
}
