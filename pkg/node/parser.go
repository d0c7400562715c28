package node

// Parser is the small capability set every format handler satisfies. The
// parser set is represented as a configuration-driven, priority-ordered
// slice of values rather than a polymorphic class hierarchy: the chain
// dispatches by iteration (try each in priority order, stop at the first
// that accepts), matching the design note's "ad-hoc inheritance" guidance.
type Parser interface {
	Name() string
	Priority() int
	CanParse(payload []byte, formatHint string) bool
	Parse(payload []byte) ParseResult
	Reconstruct(nodes []Node, targetFormat string) ([]byte, error)
}

// Chain holds parsers in the order they are tried and is itself pure:
// Parse never mutates the chain and never panics.
type Chain struct {
	parsers []Parser
}

// NewChain builds a chain that tries parsers in the order given; it does
// not sort them by Priority.
func NewChain(parsers ...Parser) *Chain {
	return &Chain{parsers: parsers}
}

// DefaultChain builds the default chain: JSON, YAML, CSV, Markdown,
// PlainText. PlainText is the terminal fallback and always succeeds.
func DefaultChain() *Chain {
	return NewChain(
		&JSONParser{},
		&YAMLParser{},
		&CSVParser{},
		&MarkdownParser{},
		&PlainTextParser{},
	)
}

// Parse tries each parser in priority order; the first whose CanParse
// accepts handles the payload. Since PlainTextParser always accepts, the
// chain itself always returns a result (never falls off the end).
func (c *Chain) Parse(data []byte, formatHint string) ParseResult {
	for _, p := range c.parsers {
		if !p.CanParse(data, formatHint) {
			continue
		}
		result := p.Parse(data)
		if result.Success {
			return result
		}
		// A parser that claimed it could handle the input but failed does
		// not abort the chain; fall through to the next candidate.
	}
	return ParseResult{Success: false, Error: errNoParserAccepted}
}

var errNoParserAccepted = parseChainError("no parser in the chain accepted the payload")

type parseChainError string

func (e parseChainError) Error() string { return string(e) }

// ByName returns a parser by its declared name, or nil.
func (c *Chain) ByName(name string) Parser {
	for _, p := range c.parsers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}
