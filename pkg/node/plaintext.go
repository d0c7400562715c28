package node

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/docker/contex/pkg/payload"
)

// PlainTextParser is the terminal fallback in the chain: it always
// succeeds, splitting the input into paragraph nodes by blank lines, or
// into sentence nodes within a paragraph when no blank lines are present.
type PlainTextParser struct{}

func (p *PlainTextParser) Name() string  { return "text" }
func (p *PlainTextParser) Priority() int { return 100 }

func (p *PlainTextParser) CanParse([]byte, string) bool { return true }

func (p *PlainTextParser) Parse(data []byte) ParseResult {
	text := string(data)
	paragraphs := splitParagraphs(text)

	var nodes []Node
	if len(paragraphs) > 1 {
		for i, para := range paragraphs {
			nodes = append(nodes, Node{
				Path:     fmt.Sprintf("[%d]", i),
				Content:  payload.Str(strings.TrimSpace(para)),
				NodeType: TypeParagraph,
			})
		}
	} else {
		sentences := splitSentences(text)
		for i, s := range sentences {
			nodes = append(nodes, Node{
				Path:     fmt.Sprintf("[%d]", i),
				Content:  payload.Str(strings.TrimSpace(s)),
				NodeType: TypeParagraph,
			})
		}
	}

	return ParseResult{
		Nodes:      nodes,
		FormatName: "text",
		Success:    true,
		Metadata:   map[string]string{"data_format": "text"},
	}
}

func (p *PlainTextParser) Reconstruct(nodes []Node, targetFormat string) ([]byte, error) {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, n.Content.Literal())
	}
	return []byte(strings.Join(parts, "\n\n")), nil
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences is a heuristic splitter on '.', '!', '?' followed, after
// any spaces, tabs or newlines, by a capital letter or the end of the
// string; the whitespace itself is not required. It is not a full
// natural-language sentence boundary detector.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			rest := strings.TrimLeft(string(runes[i+1:]), " \t\n")
			if rest == "" || unicode.IsUpper([]rune(rest)[0]) {
				out = append(out, cur.String())
				cur.Reset()
			}
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		out = append(out, cur.String())
	}
	if len(out) == 0 {
		out = append(out, text)
	}
	return out
}
