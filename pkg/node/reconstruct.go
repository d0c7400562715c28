package node

import (
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
)

// reconstructJSONLike rebuilds a best-effort document from a node list by
// re-assembling each node's content at its path. Reconstruction is not
// required to be a bit-exact inverse of Parse; it is only required for
// round-tripping JSON<->JSON and emitting alternate serializations of
// already-parsed data.
func reconstructJSONLike(nodes []Node, targetFormat string) ([]byte, error) {
	merged := assemble(nodes)

	switch targetFormat {
	case "", "json":
		return json.Marshal(merged)
	case "yaml":
		return yaml.Marshal(merged)
	default:
		return nil, fmt.Errorf("reconstruct: unsupported target format %q", targetFormat)
	}
}

// assemble picks the node with the shortest path (closest to the document
// root) as the basis and returns its content as a plain value; nodes are
// generally redundant supersets of each other for structured documents, so
// the top-most node already carries the full picture.
func assemble(nodes []Node) any {
	if len(nodes) == 0 {
		return nil
	}
	best := nodes[0]
	for _, n := range nodes[1:] {
		if len(n.Path) < len(best.Path) {
			best = n
		}
	}
	return best.Content.ToAny()
}
