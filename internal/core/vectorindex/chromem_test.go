package vectorindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

func newTestChromem(t *testing.T, path, secret string) *Chromem {
	t.Helper()
	key, err := DeriveSnapshotKey(secret)
	require.NoError(t, err)
	idx, err := NewChromem(path, key, 2, zerolog.Nop())
	require.NoError(t, err)
	return idx
}

func TestDeriveSnapshotKey(t *testing.T) {
	key, err := DeriveSnapshotKey("secret")
	require.NoError(t, err)
	assert.Len(t, key, 32)

	again, err := DeriveSnapshotKey("secret")
	require.NoError(t, err)
	assert.Equal(t, key, again)

	empty, err := DeriveSnapshotKey("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestChromemSearchAndTies(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromem(t, "", "")

	hits, err := idx.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	v := []float32{1, 1}
	require.NoError(t, idx.Add(ctx, models.Document{ID: "first"}, testEntries("first", v, []float32{0, 1})))
	require.NoError(t, idx.Add(ctx, models.Document{ID: "second"}, testEntries("second", v)))

	hits, err = idx.Search(ctx, v, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"first-0", "second-0"}, hitIDs(hits))
	assert.Equal(t, "first chunk 0", hits[0].Chunk.Text)
	assert.Equal(t, []int{1}, hits[0].Chunk.Pages)

	require.NoError(t, idx.Delete(ctx, "first"))
	require.NoError(t, idx.Add(ctx, models.Document{ID: "first"}, testEntries("first", v)))
	hits, err = idx.Search(ctx, v, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"first-0", "second-0"}, hitIDs(hits))

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chromem", stats.Backend)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 2, stats.Chunks)
}

func TestChromemErrors(t *testing.T) {
	ctx := context.Background()
	idx := newTestChromem(t, "", "")

	assert.ErrorIs(t, idx.Delete(ctx, "missing"), core.ErrNotFound)
	err := idx.Add(ctx, models.Document{ID: "a"}, testEntries("a", []float32{1, 0, 0}))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	_, err = idx.Search(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestChromemSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chromem.snapshot")

	idx := newTestChromem(t, path, "s3cret")
	require.NoError(t, idx.Add(ctx, models.Document{ID: "a", FileName: "a.pdf"}, testEntries("a", []float32{1, 0}, []float32{0, 1})))
	before, err := idx.Search(ctx, []float32{1, 0.2}, 2)
	require.NoError(t, err)

	reopened := newTestChromem(t, path, "s3cret")
	require.NoError(t, reopened.Load())
	after, err := reopened.Search(ctx, []float32{1, 0.2}, 2)
	require.NoError(t, err)
	assert.Equal(t, hitIDs(before), hitIDs(after))

	doc, err := reopened.Document(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", doc.FileName)

	// wrong key cannot decrypt the export
	assert.ErrorIs(t, newTestChromem(t, path, "other").Load(), core.ErrIndexCorrupt)
}

func TestChromemResetAndCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chromem.snapshot")

	idx := newTestChromem(t, path, "")
	require.NoError(t, idx.Add(ctx, models.Document{ID: "a"}, testEntries("a", []float32{1, 0})))
	require.NoError(t, idx.Reset(ctx))

	reopened := newTestChromem(t, path, "")
	require.NoError(t, reopened.Load())
	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)

	require.NoError(t, os.WriteFile(path, []byte("CDIX0000garbage"), 0o644))
	assert.ErrorIs(t, newTestChromem(t, path, "").Load(), core.ErrIndexCorrupt)
}
