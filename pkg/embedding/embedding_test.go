package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsDimensionMismatch(t *testing.T) {
	_, err := New(fakeProvider{dim: 128})
	require.Error(t, err)
}

func TestEncodeIsDeterministicForIdenticalText(t *testing.T) {
	e, err := New(NewLocalProvider())
	require.NoError(t, err)

	v1, err := e.Encode(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := e.Encode(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, Dim)
}

func TestEncodeDiffersForDifferentText(t *testing.T) {
	e, err := New(NewLocalProvider())
	require.NoError(t, err)

	v1, err := e.Encode(context.Background(), "alpha")
	require.NoError(t, err)
	v2, err := e.Encode(context.Background(), "beta")
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
}

func TestEncodeSurfacesProviderError(t *testing.T) {
	e, err := New(fakeProvider{dim: Dim, err: errors.New("model unavailable")})
	require.NoError(t, err)

	_, err = e.Encode(context.Background(), "x")
	assert.Error(t, err)
}

func TestEncodeBatchFallsBackToBoundedConcurrencyWithoutBatchProvider(t *testing.T) {
	e, err := New(fakeProvider{dim: Dim})
	require.NoError(t, err)

	texts := []string{"a", "b", "c"}
	vecs, err := e.EncodeBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, Dim)
	}
}

func TestEncodeBatchUsesNativeBatchProviderWhenAvailable(t *testing.T) {
	e, err := New(NewLocalProvider(), WithBatchSize(2))
	require.NoError(t, err)

	texts := []string{"a", "b", "c"}
	vecs, err := e.EncodeBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := e.Encode(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestEncodeBatchEmptyInputReturnsNil(t *testing.T) {
	e, err := New(NewLocalProvider())
	require.NoError(t, err)
	vecs, err := e.EncodeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

type fakeProvider struct {
	dim int
	err error
}

func (f fakeProvider) Dim() int { return f.dim }

func (f fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dim), nil
}
