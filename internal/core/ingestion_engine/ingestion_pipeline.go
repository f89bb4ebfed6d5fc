package ingestion_engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/citedoc/internal/core"
	objectclient "github.com/markdave123-py/citedoc/internal/core/object-client"
	"github.com/markdave123-py/citedoc/internal/core/ocr"
	"github.com/markdave123-py/citedoc/internal/metrics"
	"github.com/markdave123-py/citedoc/internal/models"
)

// NewDocumentIngestor constructs the ingestor with a bounded job queue.
func NewDocumentIngestor(
	index core.VectorIndex,
	obj core.ObjectClient,
	emb core.EmbeddingProvider,
	extractor core.DocumentExtractor,
	recognizer *ocr.Recognizer,
	chunker *Chunker,
	cfg *IngestConfig,
	log zerolog.Logger,
	m *metrics.Metrics,
) *DocumentIngestor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 5 * time.Minute
	}
	return &DocumentIngestor{
		index: index, obj: obj, embedder: emb, extractor: extractor,
		ocr: recognizer, chunker: chunker, cfg: cfg, metrics: m,
		log:  log.With().Str("component", "ingestor").Logger(),
		jobs: make(chan IngestJob, cfg.QueueSize),
	}
}

// DocumentID is the content hash identifying a file: the first 16 bytes of its SHA-256.
func DocumentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx ends.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					i.log.Debug().Int("worker", w).Msg("worker shutting down")
					return
				case job := <-i.jobs:
					i.log.Info().Str("path", job.Path).Int("worker", w).Msg("processing queued file")
					if err := i.processJob(ctx, job); err != nil {
						i.log.Error().Err(err).Str("path", job.Path).Str("kind", core.KindOf(err)).Msg("queued ingestion failed")
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a file for ingestion.
// If the queue is full, this call blocks until space frees up or ctx ends.
func (i *DocumentIngestor) Enqueue(ctx context.Context, job IngestJob) error {
	select {
	case i.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *DocumentIngestor) processJob(ctx context.Context, job IngestJob) error {
	proctx, cancel := context.WithTimeout(ctx, i.cfg.ProcessTimeout)
	defer cancel()

	data, err := os.ReadFile(job.Path)
	if err != nil {
		return core.InvalidFileError("read queued file", err)
	}
	res, err := i.Ingest(proctx, IngestRequest{FileName: filepath.Base(job.Path), Data: data, Password: job.Password})
	if err != nil {
		return err
	}
	i.log.Info().Str("document_id", res.Document.ID).Int("chunks", res.Chunks).Msg("queued file indexed")
	return nil
}

func validateUpload(req IngestRequest) error {
	if len(req.Data) == 0 {
		return core.InvalidFileError("validate", errors.New("empty file"))
	}
	isPDFName := strings.EqualFold(filepath.Ext(req.FileName), ".pdf")
	if !isPDFName && !bytes.HasPrefix(req.Data, pdfMagic) {
		return core.InvalidFileError("validate", fmt.Errorf("%q is not a pdf", req.FileName))
	}
	return nil
}

// Ingest stores the raw file, then extracts, chunks, embeds and indexes it.
// Re-ingesting identical bytes replaces the previous entries of the same document.
func (i *DocumentIngestor) Ingest(ctx context.Context, req IngestRequest) (res *models.IngestResult, err error) {
	start := time.Now()
	defer func() {
		outcome, chunks := "ok", 0
		if err != nil {
			outcome = core.KindOf(err)
		} else {
			chunks = res.Chunks
		}
		i.metrics.Ingestion(outcome, time.Since(start), chunks)
	}()

	if err := validateUpload(req); err != nil {
		return nil, err
	}

	i.rebuildMu.RLock()
	defer i.rebuildMu.RUnlock()

	id := DocumentID(req.Data)
	key := objectclient.DocumentKey(id, req.FileName)
	_, fileName, _ := objectclient.ParseDocumentKey(key)
	log := i.log.With().Str("document_id", id).Str("file", fileName).Logger()

	previous, err := i.index.Document(ctx, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	replaced := previous != nil

	// the raw file is durable before any processing starts
	if _, err := i.obj.UploadFile(ctx, key, bytes.NewReader(req.Data), "application/pdf"); err != nil {
		if !errors.Is(err, core.ErrStorage) {
			err = core.StorageError("store upload", err)
		}
		return nil, err
	}

	doc := models.Document{
		ID:         id,
		FileName:   fileName,
		SizeBytes:  int64(len(req.Data)),
		StorageKey: key,
		UploadedAt: time.Now().UTC(),
	}
	if replaced {
		doc.UploadedAt = previous.UploadedAt
	}

	res, err = i.process(ctx, doc, req.Data, req.Password)
	if err != nil {
		if errors.Is(err, core.ErrParse) && !replaced {
			if delErr := i.obj.DeleteFile(context.WithoutCancel(ctx), key); delErr != nil {
				log.Warn().Err(delErr).Msg("could not remove unparseable upload")
			}
		}
		log.Warn().Err(err).Str("kind", core.KindOf(err)).Msg("ingestion failed")
		return nil, err
	}

	if replaced && previous.StorageKey != key {
		if delErr := i.obj.DeleteFile(ctx, previous.StorageKey); delErr != nil {
			log.Warn().Err(delErr).Str("key", previous.StorageKey).Msg("could not remove previous upload")
		}
	}
	res.Replaced = replaced
	log.Info().Int("pages", res.Document.PageCount).Int("chunks", res.Chunks).Bool("replaced", replaced).
		Dur("took", time.Since(start)).Msg("document indexed")
	return res, nil
}

// process runs the pipeline for bytes already in storage and replaces the
// document's index entries.
func (i *DocumentIngestor) process(ctx context.Context, doc models.Document, data []byte, password string) (*models.IngestResult, error) {
	extracted, err := i.extractor.Extract(ctx, data, password)
	if err != nil {
		return nil, err
	}

	summary, err := i.ocr.RecognizeAll(ctx, extracted)
	if err != nil {
		return nil, err
	}

	doc.PageCount = extracted.PageCount
	elements := extracted.Elements()
	chunks, err := i.chunker.Split(doc, elements)
	if err != nil {
		return nil, err
	}

	// Build an errgroup to tie the pipeline stages together.
	g, gctx := errgroup.WithContext(ctx)

	// chunks -> stream (receive-only channel).
	chunkCh := streamChunks(gctx, g, chunks)

	// stream -> embed.
	var entries []models.IndexEntry
	g.Go(func() error {
		var err error
		entries, err = i.embedChunks(gctx, doc.ID, chunkCh, i.cfg.BatchSize, i.cfg.EmbedDim)
		return err
	})

	// Wait for all stages. Any error cancels the rest.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc.ChunkCount = len(entries)
	doc.IndexedAt = time.Now().UTC()
	if err := i.index.Add(ctx, doc, entries); err != nil {
		return nil, err
	}

	res := &models.IngestResult{
		Document:      doc,
		Chunks:        len(entries),
		Images:        summary.Images,
		LowConfidence: summary.LowConfidence,
		OCRFailures:   summary.Failed,
	}
	for _, el := range elements {
		if el.Type == models.ElementTable {
			res.Tables++
		}
	}
	return res, nil
}

// Reindex runs the pipeline again from the stored file of a document.
func (i *DocumentIngestor) Reindex(ctx context.Context, documentID string) (*models.IngestResult, error) {
	i.rebuildMu.RLock()
	defer i.rebuildMu.RUnlock()

	doc, err := i.index.Document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	data, err := i.obj.GetFile(ctx, doc.StorageKey)
	if err != nil {
		return nil, err
	}
	res, err := i.process(ctx, *doc, data, "")
	if err != nil {
		return nil, err
	}
	res.Replaced = true
	return res, nil
}

// Rebuild empties the index and ingests every stored file again. Files that
// cannot be processed, such as encrypted ones whose password was never stored,
// are skipped and reported.
func (i *DocumentIngestor) Rebuild(ctx context.Context) (*RebuildReport, error) {
	i.rebuildMu.Lock()
	defer i.rebuildMu.Unlock()

	objects, err := i.obj.ListFiles(ctx, objectclient.DocumentPrefix())
	if err != nil {
		return nil, err
	}
	if err := i.index.Reset(ctx); err != nil {
		return nil, err
	}

	// one file per document: the most recent upload wins
	latest := map[string]models.StoredObject{}
	var order []string
	report := &RebuildReport{Indexed: []string{}, Skipped: []SkippedFile{}}
	for _, obj := range objects {
		id, _, ok := objectclient.ParseDocumentKey(obj.Key)
		if !ok {
			report.Skipped = append(report.Skipped, SkippedFile{Key: obj.Key, Reason: "unrecognised storage key"})
			continue
		}
		prev, seen := latest[id]
		if !seen {
			order = append(order, id)
		}
		if !seen || obj.ModifiedAt.After(prev.ModifiedAt) {
			latest[id] = obj
		}
	}

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		obj := latest[id]
		_, fileName, _ := objectclient.ParseDocumentKey(obj.Key)
		data, err := i.obj.GetFile(ctx, obj.Key)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedFile{Key: obj.Key, Reason: err.Error()})
			continue
		}
		doc := models.Document{
			ID:         DocumentID(data),
			FileName:   fileName,
			SizeBytes:  int64(len(data)),
			StorageKey: obj.Key,
			UploadedAt: obj.ModifiedAt.UTC(),
		}
		if _, err := i.process(ctx, doc, data, ""); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			reason := err.Error()
			if errors.Is(err, core.ErrEncrypted) {
				reason = "encrypted, password not stored"
			}
			i.log.Warn().Err(err).Str("key", obj.Key).Msg("rebuild skipped file")
			report.Skipped = append(report.Skipped, SkippedFile{Key: obj.Key, Reason: reason})
			continue
		}
		report.Indexed = append(report.Indexed, doc.ID)
	}

	i.log.Info().Int("indexed", len(report.Indexed)).Int("skipped", len(report.Skipped)).Msg("index rebuilt from stored files")
	return report, nil
}

// Delete removes a document's index entries and its stored file.
func (i *DocumentIngestor) Delete(ctx context.Context, documentID string) error {
	i.rebuildMu.RLock()
	defer i.rebuildMu.RUnlock()

	doc, err := i.index.Document(ctx, documentID)
	if err != nil {
		return err
	}
	if err := i.index.Delete(ctx, documentID); err != nil {
		return err
	}
	if err := i.obj.DeleteFile(ctx, doc.StorageKey); err != nil {
		if !errors.Is(err, core.ErrStorage) {
			err = core.StorageError("delete upload", err)
		}
		return err
	}
	i.log.Info().Str("document_id", documentID).Msg("document deleted")
	return nil
}
