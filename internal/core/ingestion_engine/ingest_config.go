package ingestion_engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/core/ocr"
	"github.com/markdave123-py/citedoc/internal/metrics"
)

// IngestConfig tunes the pipeline.
//
// BatchSize:      how many chunks to embed in one provider call.
// EmbedDim:       expected embedding dimension; any other length aborts the document.
// QueueSize:      capacity of the background job queue.
// ProcessTimeout: upper bound for one queued ingestion.
type IngestConfig struct {
	BatchSize      int
	EmbedDim       int
	QueueSize      int
	ProcessTimeout time.Duration
}

// IngestRequest is one uploaded file.
type IngestRequest struct {
	FileName string
	Data     []byte
	Password string
}

// IngestJob is a file on disk waiting in the background queue.
type IngestJob struct {
	Path     string
	Password string
}

// RebuildReport lists what a rebuild re-indexed and what it had to leave out.
type RebuildReport struct {
	Indexed []string      `json:"indexed"`
	Skipped []SkippedFile `json:"skipped"`
}

type SkippedFile struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// DocumentIngestor runs uploads through extraction, OCR, chunking and embedding
// and stores the result.
//
// index:     vector index receiving the entries.
// obj:       durable store for the raw files.
// embedder:  embedding provider (Gemini/OpenAI/Ollama).
// extractor: PDF parser.
// ocr:       fills image elements with text.
// chunker:   packs elements into chunks.
// jobs:      in-memory queue fed by the inbox watcher.
//
// rebuildMu is held shared by ingestions and exclusively by Rebuild, so a reset
// never interleaves with a document being added.
type DocumentIngestor struct {
	index     core.VectorIndex
	obj       core.ObjectClient
	embedder  core.EmbeddingProvider
	extractor core.DocumentExtractor
	ocr       *ocr.Recognizer
	chunker   *Chunker
	cfg       *IngestConfig
	log       zerolog.Logger
	metrics   *metrics.Metrics

	jobs      chan IngestJob
	rebuildMu sync.RWMutex
}
