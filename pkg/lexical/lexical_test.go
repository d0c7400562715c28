package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRanksRelevantHitsFirst(t *testing.T) {
	t.Parallel()

	idx := New()
	require.NoError(t, idx.Index("p", "roster.1", "Bob Manager role reporting", nil))
	require.NoError(t, idx.Index("p", "roster.0", "Alice Engineer role building", nil))
	require.NoError(t, idx.Index("p", "other", "unrelated content about weather", nil))

	hits, err := idx.Search("p", "Bob", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "roster.1", hits[0].NodeKey)
	assert.Equal(t, 0, hits[0].Rank)
}

func TestSearchScopedByProject(t *testing.T) {
	t.Parallel()

	idx := New()
	require.NoError(t, idx.Index("p1", "a", "shared term alpha", nil))
	require.NoError(t, idx.Index("p2", "b", "shared term alpha", nil))

	hits, err := idx.Search("p1", "alpha", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].NodeKey)
}

func TestSearchUnknownProjectReturnsEmpty(t *testing.T) {
	t.Parallel()

	idx := New()
	hits, err := idx.Search("nope", "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteRemovesFromResults(t *testing.T) {
	t.Parallel()

	idx := New()
	require.NoError(t, idx.Index("p", "a", "findable text", nil))
	require.NoError(t, idx.Delete("p", "a"))

	hits, err := idx.Search("p", "findable", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestClearDropsProject(t *testing.T) {
	t.Parallel()

	idx := New()
	require.NoError(t, idx.Index("p", "a", "findable text", nil))
	require.NoError(t, idx.Clear("p"))

	hits, err := idx.Search("p", "findable", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
