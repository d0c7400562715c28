// Package node implements the Node Parser: converting an opaque publisher
// payload into an ordered list of semantic Nodes, and building each Node's
// canonical embedding_text projection.
package node

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/contex/pkg/payload"
)

// Type enumerates the semantic shape of a Node's content.
type Type string

const (
	TypeObject    Type = "object"
	TypeArray     Type = "array"
	TypePrimitive Type = "primitive"
	TypeParagraph Type = "paragraph"
	TypeHeading   Type = "heading"
	TypeListItem  Type = "list_item"
	TypeCodeBlock Type = "code_block"
	TypeRow       Type = "row"
)

// Node is the atomic unit of matching: a located, typed slice of a payload.
type Node struct {
	Path     string
	Content  payload.Value
	NodeType Type
	Metadata map[string]string
}

// ParseResult is the uniform outcome of every parser, mirroring the
// success/error-sum contract: a parser never panics on malformed input.
type ParseResult struct {
	Nodes      []Node
	FormatName string
	Success    bool
	Error      error
	Metadata   map[string]string
}

// EmbeddingText builds the canonical text projection of a Node used both for
// vector embedding and lexical indexing. It follows the original
// implementation's path de-indexing and content-rendering rules exactly:
// array indices are stripped from the path, purely numeric path segments are
// dropped, and the remaining segments are joined with spaces; content
// renders as "k: v" pairs joined by " | " for objects, comma-joined for
// arrays, and literally otherwise. Path text and content text are joined
// with " | ".
func EmbeddingText(n Node) string {
	pathText := depathText(n.Path)
	contentText := n.Content.Literal()

	if pathText == "" {
		return contentText
	}
	if contentText == "" {
		return pathText
	}
	return pathText + " | " + contentText
}

func depathText(path string) string {
	if path == "" {
		return ""
	}
	de := strings.NewReplacer("[", ".", "]", "").Replace(path)
	segments := strings.Split(de, ".")
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if _, err := strconv.Atoi(seg); err == nil {
			continue
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, " ")
}

// NodeKey derives the vector-index primary-key suffix for a Node beneath a
// given data_key: data_key + "." + path, or just data_key for the root node.
func NodeKey(dataKey string, n Node) string {
	if n.Path == "" {
		return dataKey
	}
	return fmt.Sprintf("%s.%s", dataKey, n.Path)
}
