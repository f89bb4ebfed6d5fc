package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

// Stats is the body of GET /stats.
type Stats struct {
	StartedAt      time.Time         `json:"started_at"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	TotalUploads   int64             `json:"total_uploads"`
	TotalQueries   int64             `json:"total_queries"`
	EmbeddingModel string            `json:"embedding_model"`
	OCREngine      string            `json:"ocr_engine"`
	Index          models.IndexStats `json:"index"`
}

// StatsService counts uploads and queries since the process started.
type StatsService struct {
	index     core.VectorIndex
	model     string
	ocrEngine string
	started   time.Time

	uploads atomic.Int64
	queries atomic.Int64
}

func NewStatsService(index core.VectorIndex, embeddingModel, ocrEngine string) *StatsService {
	return &StatsService{index: index, model: embeddingModel, ocrEngine: ocrEngine, started: time.Now().UTC()}
}

func (s *StatsService) RecordUpload() { s.uploads.Add(1) }
func (s *StatsService) RecordQuery()  { s.queries.Add(1) }

func (s *StatsService) StartedAt() time.Time { return s.started }

func (s *StatsService) EmbeddingModel() string { return s.model }

func (s *StatsService) Snapshot(ctx context.Context) (*Stats, error) {
	idx, err := s.index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		StartedAt:      s.started,
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		TotalUploads:   s.uploads.Load(),
		TotalQueries:   s.queries.Load(),
		EmbeddingModel: s.model,
		OCREngine:      s.ocrEngine,
		Index:          idx,
	}, nil
}
