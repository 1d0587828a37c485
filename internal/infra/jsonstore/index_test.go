package jsonstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

func indexFixture() ([]retrieval.Document, [][]float32) {
	docs := []retrieval.Document{
		retrieval.NewDocument("age: age of the person", retrieval.Metadata{Type: retrieval.DocTypeColumn, ColumnName: "age", TableName: "people"}),
		retrieval.NewDocument("income: yearly income", retrieval.Metadata{Type: retrieval.DocTypeColumn, ColumnName: "income", TableName: "people"}),
		retrieval.NewDocument("people: demographic table", retrieval.Metadata{Type: retrieval.DocTypeTable, TableName: "people"}),
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{1, 1, 0},
	}
	return docs, vectors
}

func TestIndexStore_BuildOpenSearch(t *testing.T) {
	ctx := context.Background()
	store := NewIndexStore(t.TempDir(), testOptions()...)

	_, found, err := store.Open(ctx, "metadata_index")
	require.NoError(t, err)
	assert.False(t, found)

	docs, vectors := indexFixture()
	built, err := store.Build(ctx, "metadata_index", docs, vectors)
	require.NoError(t, err)
	assert.Equal(t, "metadata_index", built.Name())

	index, found, err := store.Open(ctx, "metadata_index")
	require.NoError(t, err)
	require.True(t, found)

	matches, err := index.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "age", matches[0].Metadata.ColumnName)
	assert.InDelta(t, 0.0, matches[0].CosineDistance, 1e-9)
	assert.Equal(t, retrieval.DocTypeTable, matches[1].Metadata.Type)
	assert.InDelta(t, 1-1/1.4142135623730951, matches[1].CosineDistance, 1e-6)
}

func TestIndexStore_SearchDefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	store := NewIndexStore(t.TempDir(), testOptions()...)
	docs, vectors := indexFixture()
	index, err := store.Build(ctx, "idx", docs, vectors)
	require.NoError(t, err)

	// k <= 0 は既定件数
	matches, err := index.Search(ctx, []float32{0, 1, 0}, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
	assert.Equal(t, "income", matches[0].Metadata.ColumnName)

	// 直交するベクトルの距離は 1
	assert.InDelta(t, 1.0, matches[2].CosineDistance, 1e-9)

	_, err = index.Search(ctx, []float32{1, 0}, 2)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// ゼロベクトルは類似度 0
	matches, err = index.Search(ctx, []float32{0, 0, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, matches[0].CosineDistance, 1e-9)
}

func TestIndexStore_BuildValidation(t *testing.T) {
	ctx := context.Background()
	store := NewIndexStore(t.TempDir(), testOptions()...)
	docs, vectors := indexFixture()

	_, err := store.Build(ctx, "idx", nil, nil)
	assert.ErrorIs(t, err, retrieval.ErrNoDocuments)

	_, err = store.Build(ctx, "idx", docs, vectors[:2])
	assert.Error(t, err)

	_, err = store.Build(ctx, "idx", docs, [][]float32{{1, 0, 0}, {0, 1}, {1, 1, 0}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, found, err := store.Open(ctx, "idx")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIndexStore_RebuildReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewIndexStore(t.TempDir(), testOptions()...)
	docs, vectors := indexFixture()

	_, err := store.Build(ctx, "idx", docs, vectors)
	require.NoError(t, err)
	_, err = store.Build(ctx, "idx", docs[:1], vectors[:1])
	require.NoError(t, err)

	index, found, err := store.Open(ctx, "idx")
	require.NoError(t, err)
	require.True(t, found)
	matches, err := index.Search(ctx, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "age", matches[0].Metadata.ColumnName)
}

func TestIndexStore_CorruptFileIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewIndexStore(t.TempDir(), testOptions()...)
	require.NoError(t, os.WriteFile(store.Path("idx"), []byte("{broken"), 0o644))

	_, found, err := store.Open(ctx, "idx")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIndexStore_PathAndRemove(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewIndexStore(dir, testOptions()...)

	assert.Equal(t, filepath.Join(dir, "my_index_v1.index.json"), store.Path("my index/v1"))

	docs, vectors := indexFixture()
	_, err := store.Build(ctx, "idx", docs, vectors)
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, "idx"))
	require.NoError(t, store.Remove(ctx, "idx"))

	_, found, err := store.Open(ctx, "idx")
	require.NoError(t, err)
	assert.False(t, found)
}
