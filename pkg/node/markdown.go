package node

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/docker/contex/pkg/payload"
)

// MarkdownParser walks a goldmark AST and emits heading/paragraph/
// code_block/list_item nodes in document order.
type MarkdownParser struct{}

func (p *MarkdownParser) Name() string  { return "markdown" }
func (p *MarkdownParser) Priority() int { return 3 }

func (p *MarkdownParser) CanParse(data []byte, formatHint string) bool {
	if formatHint == "markdown" || formatHint == "md" {
		return true
	}
	if formatHint != "" {
		return false
	}
	trimmed := bytes.TrimSpace(data)
	return bytes.HasPrefix(trimmed, []byte("#")) ||
		bytes.Contains(trimmed, []byte("\n#")) ||
		bytes.Contains(trimmed, []byte("```"))
}

func (p *MarkdownParser) Parse(data []byte) ParseResult {
	doc := goldmark.DefaultParser().Parse(text.NewReader(data))

	var nodes []Node
	idx := 0
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Heading:
			content := string(n.Text(data))
			nodes = append(nodes, Node{
				Path:     fmt.Sprintf("[%d]", idx),
				Content:  payload.Str(content),
				NodeType: TypeHeading,
				Metadata: map[string]string{"level": fmt.Sprint(t.Level)},
			})
			idx++
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			content := string(n.Text(data))
			if content == "" {
				return ast.WalkContinue, nil
			}
			nodes = append(nodes, Node{
				Path:     fmt.Sprintf("[%d]", idx),
				Content:  payload.Str(content),
				NodeType: TypeParagraph,
			})
			idx++
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock:
			var buf bytes.Buffer
			for i := range t.Lines().Len() {
				line := t.Lines().At(i)
				buf.Write(line.Value(data))
			}
			nodes = append(nodes, Node{
				Path:     fmt.Sprintf("[%d]", idx),
				Content:  payload.Str(buf.String()),
				NodeType: TypeCodeBlock,
				Metadata: map[string]string{"language": string(t.Language(data))},
			})
			idx++
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			var buf bytes.Buffer
			for i := range t.Lines().Len() {
				line := t.Lines().At(i)
				buf.Write(line.Value(data))
			}
			nodes = append(nodes, Node{
				Path:     fmt.Sprintf("[%d]", idx),
				Content:  payload.Str(buf.String()),
				NodeType: TypeCodeBlock,
			})
			idx++
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			content := string(n.Text(data))
			nodes = append(nodes, Node{
				Path:     fmt.Sprintf("[%d]", idx),
				Content:  payload.Str(content),
				NodeType: TypeListItem,
			})
			idx++
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return ParseResult{Success: false, Error: fmt.Errorf("markdown: %w", err)}
	}

	return ParseResult{
		Nodes:      nodes,
		FormatName: "markdown",
		Success:    true,
		Metadata:   map[string]string{"data_format": "markdown"},
	}
}

func (p *MarkdownParser) Reconstruct(nodes []Node, targetFormat string) ([]byte, error) {
	if targetFormat != "" && targetFormat != "markdown" && targetFormat != "md" {
		return nil, fmt.Errorf("markdown: reconstruct to %q not supported", targetFormat)
	}
	var buf bytes.Buffer
	for _, n := range nodes {
		switch n.NodeType {
		case TypeHeading:
			level := n.Metadata["level"]
			if level == "" {
				level = "1"
			}
			fmt.Fprintf(&buf, "%s %s\n\n", repeatHash(level), n.Content.Literal())
		case TypeCodeBlock:
			fmt.Fprintf(&buf, "```%s\n%s\n```\n\n", n.Metadata["language"], n.Content.Literal())
		case TypeListItem:
			fmt.Fprintf(&buf, "- %s\n", n.Content.Literal())
		default:
			fmt.Fprintf(&buf, "%s\n\n", n.Content.Literal())
		}
	}
	return buf.Bytes(), nil
}

func repeatHash(level string) string {
	n := 1
	fmt.Sscanf(level, "%d", &n)
	if n < 1 {
		n = 1
	}
	if n > 6 {
		n = 6
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = '#'
	}
	return string(out)
}
