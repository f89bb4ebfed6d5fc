package core

import (
	"context"
	"io"

	"github.com/markdave123-py/citedoc/internal/models"
)

// ObjectClient defines interactions with the durable store for raw uploads.
// Implementations exist for the local disk and S3.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	DeleteFile(ctx context.Context, key string) error
	ListFiles(ctx context.Context, prefix string) ([]models.StoredObject, error)
}

// VectorIndex stores chunk vectors with their metadata.
// It must allow concurrent Search calls while serializing mutations.
type VectorIndex interface {
	// Add replaces every entry of doc.ID with entries and persists the result.
	Add(ctx context.Context, doc models.Document, entries []models.IndexEntry) error
	Delete(ctx context.Context, documentID string) error
	// Search returns at most k hits, best first, ties in insertion order.
	Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error)

	Document(ctx context.Context, id string) (*models.Document, error)
	Documents(ctx context.Context) ([]models.Document, error)
	Stats(ctx context.Context) (models.IndexStats, error)

	// Reset drops every entry, used before a rebuild from stored files.
	Reset(ctx context.Context) error
	Close() error
}
