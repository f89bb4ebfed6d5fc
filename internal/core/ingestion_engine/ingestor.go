package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/citedoc/internal/models"
)

type Ingestor interface {
	Ingest(ctx context.Context, req IngestRequest) (*models.IngestResult, error)
	Reindex(ctx context.Context, documentID string) (*models.IngestResult, error)
	Rebuild(ctx context.Context) (*RebuildReport, error)
	Delete(ctx context.Context, documentID string) error

	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, job IngestJob) error
}

var _ Ingestor = (*DocumentIngestor)(nil)
