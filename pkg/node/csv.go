package node

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/docker/contex/pkg/payload"
)

// CSVParser emits one "row" node per data row, with the header row consumed
// to provide object keys. encoding/csv is the standard library tool for
// this and no example repo in the corpus reaches for a third-party CSV
// library, so stdlib is the idiomatic choice here.
type CSVParser struct{}

func (p *CSVParser) Name() string  { return "csv" }
func (p *CSVParser) Priority() int { return 2 }

func (p *CSVParser) CanParse(data []byte, formatHint string) bool {
	if formatHint == "csv" {
		return true
	}
	if formatHint != "" {
		return false
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return false
	}
	firstLine, _, _ := bytes.Cut(trimmed, []byte("\n"))
	return bytes.ContainsRune(firstLine, ',')
}

func (p *CSVParser) Parse(data []byte) ParseResult {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return ParseResult{Success: false, Error: fmt.Errorf("csv: %w", err)}
	}
	if len(records) == 0 {
		return ParseResult{Success: false, Error: fmt.Errorf("csv: no rows")}
	}

	header := records[0]
	nodes := make([]Node, 0, len(records)-1)
	for i, row := range records[1:] {
		keys := make([]string, 0, len(header))
		fields := make(map[string]payload.Value, len(header))
		for col, name := range header {
			name = strings.TrimSpace(name)
			val := ""
			if col < len(row) {
				val = row[col]
			}
			keys = append(keys, name)
			fields[name] = payload.Str(val)
		}
		nodes = append(nodes, Node{
			Path:     fmt.Sprintf("[%d]", i),
			Content:  payload.Object(keys, fields),
			NodeType: TypeRow,
		})
	}

	return ParseResult{
		Nodes:      nodes,
		FormatName: "csv",
		Success:    true,
		Metadata:   map[string]string{"data_format": "csv"},
	}
}

func (p *CSVParser) Reconstruct(nodes []Node, targetFormat string) ([]byte, error) {
	if targetFormat != "" && targetFormat != "csv" {
		return reconstructJSONLike(nodes, targetFormat)
	}

	var header []string
	seen := map[string]bool{}
	for _, n := range nodes {
		if n.Content.Kind() != payload.KindObject {
			continue
		}
		_, keys := n.Content.Object()
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Content.Kind() != payload.KindObject {
			continue
		}
		fields, _ := n.Content.Object()
		row := make([]string, len(header))
		for i, k := range header {
			if v, ok := fields[k]; ok {
				row[i] = v.Literal()
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
