//go:build integration

package db

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/markdave123-py/citedoc/internal/config"
	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/core/vectorindex"
	"github.com/markdave123-py/citedoc/internal/models"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "citedoc",
			"POSTGRES_PASSWORD": "citedoc",
			"POSTGRES_DB":       "citedoc",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start Postgres container")
	t.Cleanup(func() {
		if err := ctr.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate Postgres container: %v", err)
		}
	})

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	db, err := Open(ctx, &config.Config{
		DatabaseURL: fmt.Sprintf("postgres://citedoc:citedoc@%s/citedoc?sslmode=disable", endpoint),
	})
	require.NoError(t, err)
	return db
}

func pgEntries(docID string, vectors ...[]float32) []models.IndexEntry {
	out := make([]models.IndexEntry, len(vectors))
	for i, v := range vectors {
		out[i] = models.IndexEntry{
			ID:     fmt.Sprintf("%s-%d", docID, i),
			Chunk:  models.Chunk{DocumentID: docID, Index: i, Text: "text", Pages: []int{1}},
			Vector: v,
		}
	}
	return out
}

func TestPgVectorIndexLifecycle(t *testing.T) {
	ctx := context.Background()
	idx := NewPgVectorIndex(setupPostgres(t), vectorindex.Cosine, 2, zerolog.Nop())
	require.NoError(t, idx.Load())
	defer idx.Close()

	v := []float32{1, 1}
	now := time.Now().UTC()
	require.NoError(t, idx.Add(ctx, models.Document{ID: "a", FileName: "a.pdf", UploadedAt: now, IndexedAt: now}, pgEntries("a", v, []float32{0, 1})))
	require.NoError(t, idx.Add(ctx, models.Document{ID: "b", FileName: "b.pdf", UploadedAt: now, IndexedAt: now}, pgEntries("b", v)))

	hits, err := idx.Search(ctx, v, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a-0", hits[0].ID)
	assert.Equal(t, "b-0", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

	require.NoError(t, idx.Delete(ctx, "a"))
	assert.ErrorIs(t, idx.Delete(ctx, "a"), core.ErrNotFound)
	require.NoError(t, idx.Add(ctx, models.Document{ID: "a", FileName: "a.pdf", UploadedAt: now, IndexedAt: now}, pgEntries("a", v)))

	hits, err = idx.Search(ctx, v, 2)
	require.NoError(t, err)
	assert.Equal(t, "a-0", hits[0].ID)

	docs, err := idx.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)

	require.NoError(t, idx.Reset(ctx))
	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)

	other := NewPgVectorIndex(idx.db, vectorindex.Cosine, 3, zerolog.Nop())
	assert.ErrorIs(t, other.Load(), core.ErrIndexCorrupt)
}
