// Package lexical implements the optional Lexical Index: a per-project
// BM25-ranked full-text index over node embedding text, grounded on
// pkg/model/provider/rulebased/client.go's use of an in-memory bleve index
// (the teacher's own hand-rolled pkg/rag/strategy/bm25.go scorer is not
// reused here — bleve is already a teacher dependency and is the more
// idiomatic choice per the "never hand-roll where the corpus has a
// library" rule).
package lexical

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Hit is one ranked result: rank is the 0-based position in bleve's
// relevance-ordered hit list. Only rank matters to the Rank-Fusion Matcher
// contract; raw bleve scores are not exposed past this package.
type Hit struct {
	NodeKey string
	Rank    int
}

// Index is a per-project set of in-memory bleve indices, one per project so
// a project's lexical corpus can be dropped independently (Clear) without
// touching any other project's index.
type Index struct {
	mu      sync.RWMutex
	byProj  map[string]bleve.Index
}

func New() *Index {
	return &Index{byProj: make(map[string]bleve.Index)}
}

type document struct {
	Text string `json:"text"`
}

func newBleveIndex() (bleve.Index, error) {
	docMapping := mapping.NewDocumentMapping()
	textField := mapping.NewTextFieldMapping()
	textField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("text", textField)

	indexMapping := mapping.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping

	return bleve.NewMemOnly(indexMapping)
}

func (x *Index) indexFor(project string) (bleve.Index, error) {
	x.mu.RLock()
	idx, ok := x.byProj[project]
	x.mu.RUnlock()
	if ok {
		return idx, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if idx, ok := x.byProj[project]; ok {
		return idx, nil
	}
	idx, err := newBleveIndex()
	if err != nil {
		return nil, fmt.Errorf("lexical: create index for project %q: %w", project, err)
	}
	x.byProj[project] = idx
	return idx, nil
}

// docID namespaces a node_key inside a project's index by its own project,
// which is redundant given one index per project but keeps ids collision-
// free if two Index values ever shared storage.
func docID(project, nodeKey string) string {
	return project + "\x00" + nodeKey
}

// Index adds or replaces the entry for (project, node_key). metadata is
// accepted for interface symmetry with the spec's contract but bleve's
// relevance ranking here is driven entirely by text.
func (x *Index) Index(project, nodeKey, text string, _ map[string]string) error {
	idx, err := x.indexFor(project)
	if err != nil {
		return err
	}
	if err := idx.Index(docID(project, nodeKey), document{Text: text}); err != nil {
		return fmt.Errorf("lexical: index %q: %w", nodeKey, err)
	}
	return nil
}

// Delete removes the entry for (project, node_key), if present.
func (x *Index) Delete(project, nodeKey string) error {
	x.mu.RLock()
	idx, ok := x.byProj[project]
	x.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := idx.Delete(docID(project, nodeKey)); err != nil {
		return fmt.Errorf("lexical: delete %q: %w", nodeKey, err)
	}
	return nil
}

// Search returns up to size hits for query within project, in bleve's
// relevance order; Rank is their 0-based position.
func (x *Index) Search(project, query string, size int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || size <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	idx, ok := x.byProj[project]
	x.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequest(q)
	req.Size = size

	result, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical: search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for rank, hit := range result.Hits {
		_, nodeKey, ok := strings.Cut(hit.ID, "\x00")
		if !ok {
			nodeKey = hit.ID
		}
		hits = append(hits, Hit{NodeKey: nodeKey, Rank: rank})
	}
	return hits, nil
}

// Clear drops the entire per-project index, used by Retention's project
// deletion and by administrative rebuilds.
func (x *Index) Clear(project string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	idx, ok := x.byProj[project]
	if !ok {
		return nil
	}
	delete(x.byProj, project)
	if err := idx.Close(); err != nil {
		return fmt.Errorf("lexical: clear: close: %w", err)
	}
	return nil
}
