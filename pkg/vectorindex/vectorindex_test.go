package vectorindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/contex/pkg/node"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	dir := t.TempDir()
	idx, err := OpenSQLite(filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func rec(project, dataKey, nodeKey string, vec []float32) Record {
	return Record{
		Project:     project,
		DataKey:     dataKey,
		NodeKey:     nodeKey,
		NodePath:    "path",
		NodeType:    node.TypeObject,
		Description: "desc",
		Content:     `{"a":1}`,
		DataFormat:  "json",
		Vector:      vec,
	}
}

func TestUpsertAtomicallyReplacesDataKeyRows(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "p", "doc1", []Record{
		rec("p", "doc1", "doc1.a", []float32{1, 0}),
		rec("p", "doc1", "doc1.b", []float32{0, 1}),
	}))

	keys, err := idx.ListDataKeys(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1"}, keys)

	// Replace with a single, different node set for the same data_key.
	require.NoError(t, idx.Upsert(ctx, "p", "doc1", []Record{
		rec("p", "doc1", "doc1.c", []float32{1, 1}),
	}))

	_, ok, err := idx.Get(ctx, "p", "doc1.a")
	require.NoError(t, err)
	assert.False(t, ok, "old node_key must not survive a replace")

	_, ok, err = idx.Get(ctx, "p", "doc1.c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpsertDoesNotTouchOtherDataKeys(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "p", "doc1", []Record{rec("p", "doc1", "doc1.a", []float32{1, 0})}))
	require.NoError(t, idx.Upsert(ctx, "p", "doc2", []Record{rec("p", "doc2", "doc2.a", []float32{0, 1})}))

	keys, err := idx.ListDataKeys(ctx, "p")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc1", "doc2"}, keys)
}

func TestKNNEnforcesProjectFilterAndOrdersBySimilarity(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "p1", "doc1", []Record{
		rec("p1", "doc1", "doc1.a", []float32{1, 0}),
		rec("p1", "doc1", "doc1.b", []float32{0.9, 0.1}),
	}))
	require.NoError(t, idx.Upsert(ctx, "p2", "other", []Record{
		rec("p2", "other", "other.a", []float32{1, 0}),
	}))

	matches, err := idx.KNN(ctx, "p1", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2, "project filter must exclude p2's rows")
	assert.Equal(t, "doc1.a", matches[0].NodeKey, "closer vector ranks first")
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
}

func TestKNNRespectsK(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "p", "doc1", []Record{
		rec("p", "doc1", "doc1.a", []float32{1, 0}),
		rec("p", "doc1", "doc1.b", []float32{0, 1}),
		rec("p", "doc1", "doc1.c", []float32{1, 1}),
	}))

	matches, err := idx.KNN(ctx, "p", []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestClearDropsOnlyTargetProject(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "p1", "doc1", []Record{rec("p1", "doc1", "doc1.a", []float32{1, 0})}))
	require.NoError(t, idx.Upsert(ctx, "p2", "doc1", []Record{rec("p2", "doc1", "doc1.a", []float32{1, 0})}))

	require.NoError(t, idx.Clear(ctx, "p1"))

	keys, err := idx.ListDataKeys(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = idx.ListDataKeys(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1"}, keys)
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
}

func TestCosineSimilarityOrthogonalVectorsIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineSimilarityMismatchedLengthsIsZero(t *testing.T) {
	assert.Zero(t, CosineSimilarity([]float32{1, 2}, []float32{1}))
}

func TestCosineSimilarityZeroVectorIsZero(t *testing.T) {
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
