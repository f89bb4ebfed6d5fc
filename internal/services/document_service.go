package services

import (
	"context"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/core/ingestion_engine"
	"github.com/markdave123-py/citedoc/internal/models"
)

// DocumentService is the document surface of the API: uploads go through the
// ingestor, lookups read the index registry.
type DocumentService struct {
	ingestor ingestion_engine.Ingestor
	index    core.VectorIndex
	stats    *StatsService
}

func NewDocumentService(ing ingestion_engine.Ingestor, index core.VectorIndex, stats *StatsService) *DocumentService {
	return &DocumentService{ingestor: ing, index: index, stats: stats}
}

// Upload ingests one file synchronously and counts it once indexed.
func (s *DocumentService) Upload(ctx context.Context, fileName string, data []byte, password string) (*models.IngestResult, error) {
	res, err := s.ingestor.Ingest(ctx, ingestion_engine.IngestRequest{FileName: fileName, Data: data, Password: password})
	if err != nil {
		return nil, err
	}
	if s.stats != nil {
		s.stats.RecordUpload()
	}
	return res, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.index.Document(ctx, id)
}

func (s *DocumentService) List(ctx context.Context) ([]models.Document, error) {
	docs, err := s.index.Documents(ctx)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

func (s *DocumentService) Delete(ctx context.Context, id string) error {
	return s.ingestor.Delete(ctx, id)
}

func (s *DocumentService) Reindex(ctx context.Context, id string) (*models.IngestResult, error) {
	return s.ingestor.Reindex(ctx, id)
}

func (s *DocumentService) Rebuild(ctx context.Context) (*ingestion_engine.RebuildReport, error) {
	return s.ingestor.Rebuild(ctx)
}
