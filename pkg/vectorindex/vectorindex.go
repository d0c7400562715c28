// Package vectorindex implements the Vector Index: a per-project keyed
// store of node vectors with cosine-similarity kNN, atomic replace-by-prefix
// semantics, and a mandatory project filter enforced inside the query.
package vectorindex

import (
	"context"
	"math"

	"github.com/docker/contex/pkg/node"
)

// Record is a vector-index row: the NodeRecord of the data model.
type Record struct {
	Project         string
	DataKey         string
	NodeKey         string
	NodePath        string
	NodeType        node.Type
	Description     string // embedding_text
	Content         string // JSON-encoded node content
	OriginalPayload []byte
	DataFormat      string
	Vector          []float32
}

// Match is one scored hit from a kNN query.
type Match struct {
	NodeKey    string
	Similarity float64
	Record     Record
}

// Index is the contract the Rank-Fusion Matcher and Pipeline Orchestrator
// depend on; both the SQLite-backed store and the optional Qdrant-backed
// store implement it, so the rest of the system is backend-agnostic.
type Index interface {
	// Upsert atomically replaces every row for (project, data_key) with
	// records. No reader observes a partial replacement (I2).
	Upsert(ctx context.Context, project, dataKey string, records []Record) error
	// KNN returns up to k nearest neighbors to query within project,
	// sorted by descending cosine similarity. The project filter is
	// enforced inside the query, never by post-filtering.
	KNN(ctx context.Context, project string, query []float32, k int) ([]Match, error)
	// Get fetches a single record by (project, node_key), or ok=false.
	Get(ctx context.Context, project, nodeKey string) (Record, bool, error)
	ListDataKeys(ctx context.Context, project string) ([]string, error)
	Clear(ctx context.Context, project string) error
	Close() error
}

// CosineSimilarity computes a·b / (||a|| ||b||), returning 0 for
// mismatched lengths or a zero vector on either side. Grounded on
// pkg/rag/database/database.go's CosineSimilarity helper.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
