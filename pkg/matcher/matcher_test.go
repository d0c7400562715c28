package matcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/contex/pkg/embedcache"
	"github.com/docker/contex/pkg/embedding"
	"github.com/docker/contex/pkg/lexical"
	"github.com/docker/contex/pkg/node"
	"github.com/docker/contex/pkg/vectorindex"
)

func newTestMatcher(t *testing.T, hybrid bool) (*Matcher, vectorindex.Index, *lexical.Index) {
	t.Helper()
	dir := t.TempDir()
	vec, err := vectorindex.OpenSQLite(filepath.Join(dir, "v.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vec.Close() })

	lex := lexical.New()
	engine, err := embedding.New(embedding.NewLocalProvider())
	require.NoError(t, err)
	cache := embedcache.New(time.Minute)

	m := New(vec, lex, cache, engine, Config{
		SimilarityThreshold: 0,
		MaxMatches:          5,
		HybridSearchEnabled: hybrid,
		RRFK:                60,
		VectorBoost:         1.0,
	})
	return m, vec, lex
}

func seedRecord(t *testing.T, vec vectorindex.Index, lex *lexical.Index, index bool, project, dataKey, text string) {
	t.Helper()
	engine, err := embedding.New(embedding.NewLocalProvider())
	require.NoError(t, err)
	v, err := engine.Encode(context.Background(), text)
	require.NoError(t, err)

	nodeKey := dataKey
	rec := vectorindex.Record{
		Project:     project,
		DataKey:     dataKey,
		NodeKey:     nodeKey,
		NodePath:    "$",
		NodeType:    node.TypeObject,
		Description: text,
		Content:     `"` + text + `"`,
		DataFormat:  "text",
		Vector:      v,
	}
	require.NoError(t, vec.Upsert(context.Background(), project, dataKey, []vectorindex.Record{rec}))
	if index {
		require.NoError(t, lex.Index(project, nodeKey, text, nil))
	}
}

func TestMatchReturnsOneEntryPerNeedEvenWhenEmpty(t *testing.T) {
	m, _, _ := newTestMatcher(t, false)
	out, err := m.Match(context.Background(), "empty-project", []string{"need a", "need b"})
	require.NoError(t, err)
	assert.Contains(t, out, "need a")
	assert.Contains(t, out, "need b")
	assert.Empty(t, out["need a"])
}

func TestMatchEmptyNeedsReturnsEmptyMap(t *testing.T) {
	m, _, _ := newTestMatcher(t, false)
	out, err := m.Match(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMatchIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	m, vec, _ := newTestMatcher(t, false)
	seedRecord(t, vec, nil, false, "p", "doc1", "authentication configuration details")
	seedRecord(t, vec, nil, false, "p", "doc2", "unrelated shipping schedule")

	first, err := m.Match(context.Background(), "p", []string{"authentication configuration"})
	require.NoError(t, err)
	second, err := m.Match(context.Background(), "p", []string{"authentication configuration"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMatchPureVectorAppliesSimilarityThreshold(t *testing.T) {
	m, vec, _ := newTestMatcher(t, false)
	m.cfg.SimilarityThreshold = 2.0 // unreachable, cosine similarity tops out at 1
	seedRecord(t, vec, nil, false, "p", "doc1", "authentication configuration details")

	out, err := m.Match(context.Background(), "p", []string{"authentication configuration"})
	require.NoError(t, err)
	assert.Empty(t, out["authentication configuration"])
}

func TestMatchHybridFusesLexicalAndVectorLists(t *testing.T) {
	m, vec, lex := newTestMatcher(t, true)
	seedRecord(t, vec, lex, true, "p", "bob", "Bob Manager roster entry")
	seedRecord(t, vec, lex, true, "p", "alice", "Alice Engineer roster entry")

	out, err := m.Match(context.Background(), "p", []string{"Bob"})
	require.NoError(t, err)
	matches := out["Bob"]
	require.NotEmpty(t, matches)
	assert.Equal(t, "bob", matches[0].DataKey, "the exact lexical hit should rank first under RRF")
}

func TestMatchTieBreaksByNodeKeyAscending(t *testing.T) {
	scored := []scoredKey{{nodeKey: "b", score: 1}, {nodeKey: "a", score: 1}}
	// Mirrors the sort.SliceStable comparator used inside matchOne.
	less := func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].nodeKey < scored[j].nodeKey
	}
	assert.False(t, less(0, 1), "b should not sort before a at equal score")
	assert.True(t, less(1, 0), "a should sort before b at equal score")
}

func TestLexicalSearchErrorDisablesHybridForRemainderOfProcess(t *testing.T) {
	m, vec, _ := newTestMatcher(t, true)
	seedRecord(t, vec, nil, false, "p", "doc1", "authentication configuration details")
	m.lex = failingLexical{}

	_, err := m.Match(context.Background(), "p", []string{"authentication"})
	require.NoError(t, err)
	assert.True(t, m.lexicalDisabled.Load())

	// A subsequent call must not attempt lexical search again (no panic, no error).
	_, err = m.Match(context.Background(), "p", []string{"authentication"})
	require.NoError(t, err)
}

type failingLexical struct{}

func (failingLexical) Search(project, query string, size int) ([]lexical.Hit, error) {
	return nil, assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "lexical backend unavailable" }
