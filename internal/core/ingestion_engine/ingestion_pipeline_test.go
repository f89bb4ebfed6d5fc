package ingestion_engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/citedoc/internal/core"
	objectclient "github.com/markdave123-py/citedoc/internal/core/object-client"
	"github.com/markdave123-py/citedoc/internal/core/ocr"
	"github.com/markdave123-py/citedoc/internal/core/vectorindex"
	"github.com/markdave123-py/citedoc/internal/models"
)

const testDim = 8

// hashEmbedder derives a deterministic vector from the text bytes.
type hashEmbedder struct {
	dim   int
	calls atomic.Int32
}

func (h *hashEmbedder) ModelName() string { return "hash" }

func (h *hashEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	h.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		v := make([]float32, h.dim)
		for j := range v {
			v[j] = float32(sum[j%len(sum)])/255 + 0.01
		}
		out[i] = v
	}
	return out, nil
}

type chartOCR struct{}

func (chartOCR) Name() string { return "fake" }

func (chartOCR) Recognize(context.Context, []byte, string) (models.OCRResult, error) {
	return models.OCRResult{Text: "Revenue chart 2023", Confidence: 0.92}, nil
}

type testRig struct {
	ing   *DocumentIngestor
	index *vectorindex.Memory
	store *objectclient.LocalClient
	emb   *hashEmbedder
}

func newRig(t *testing.T, embedDim int) *testRig {
	t.Helper()
	store, err := objectclient.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	idx := vectorindex.NewMemory("", vectorindex.Cosine, testDim, zerolog.Nop())
	emb := &hashEmbedder{dim: embedDim}
	ing := NewDocumentIngestor(
		idx, store, emb,
		NewPDFExtractor(zerolog.Nop()),
		ocr.NewRecognizer(chartOCR{}, zerolog.Nop()),
		NewChunker(),
		&IngestConfig{BatchSize: 4, EmbedDim: testDim},
		zerolog.Nop(), nil,
	)
	return &testRig{ing: ing, index: idx, store: store, emb: emb}
}

// allChunks returns every indexed chunk by searching with a large k.
func (r *testRig) allChunks(t *testing.T) []models.Chunk {
	t.Helper()
	q := make([]float32, testDim)
	for i := range q {
		q[i] = 1
	}
	hits, err := r.index.Search(context.Background(), q, 10000)
	require.NoError(t, err)
	out := make([]models.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk
	}
	return out
}

func (r *testRig) storedKeys(t *testing.T) []string {
	t.Helper()
	objs, err := r.store.ListFiles(context.Background(), objectclient.DocumentPrefix())
	require.NoError(t, err)
	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = o.Key
	}
	return keys
}

func TestIngestTenPageReport(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, testDim)
	data := tenPageReport(t)

	res, err := rig.ing.Ingest(ctx, IngestRequest{FileName: "report.pdf", Data: data})
	require.NoError(t, err)
	assert.Equal(t, DocumentID(data), res.Document.ID)
	assert.Equal(t, 10, res.Document.PageCount)
	assert.Equal(t, 1, res.Tables)
	assert.Equal(t, 1, res.Images)
	assert.Zero(t, res.OCRFailures)
	assert.False(t, res.Replaced)
	assert.Positive(t, res.Chunks)
	assert.Equal(t, res.Chunks, res.Document.ChunkCount)

	stored, err := rig.store.GetFile(ctx, res.Document.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	stats, err := rig.index.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, res.Chunks, stats.Chunks)

	chunks := rig.allChunks(t)
	covered := map[int]bool{}
	var tableChunk, imageChunk *models.Chunk
	for i := range chunks {
		for _, p := range chunks[i].Pages {
			covered[p] = true
		}
		if strings.Contains(chunks[i].Text, "Region | Revenue") {
			tableChunk = &chunks[i]
		}
		if strings.Contains(chunks[i].Text, "Revenue chart 2023") {
			imageChunk = &chunks[i]
		}
	}
	for p := 1; p <= 10; p++ {
		assert.True(t, covered[p], "page %d not cited by any chunk", p)
	}

	require.NotNil(t, tableChunk)
	assert.Contains(t, tableChunk.Text, "Region | Revenue | Growth\nNorth | 120 | 4%\nSouth | 95 | 2%")
	assert.Contains(t, tableChunk.Pages, 3)
	assert.Contains(t, tableChunk.Refs, models.ElementRef{Page: 3, Type: models.ElementTable, Ref: "Table 1"})

	require.NotNil(t, imageChunk)
	assert.Contains(t, imageChunk.Pages, 7)
	assert.Contains(t, imageChunk.Refs, models.ElementRef{Page: 7, Type: models.ElementImage, Ref: "Image 1"})
	assert.False(t, imageChunk.LowConfidence)
}

func TestIngestRejectsNonPDF(t *testing.T) {
	rig := newRig(t, testDim)
	_, err := rig.ing.Ingest(context.Background(), IngestRequest{FileName: "notes.txt", Data: []byte("hello")})
	assert.ErrorIs(t, err, core.ErrInvalidFile)

	_, err = rig.ing.Ingest(context.Background(), IngestRequest{FileName: "empty.pdf"})
	assert.ErrorIs(t, err, core.ErrInvalidFile)
	assert.Empty(t, rig.storedKeys(t))
}

func TestIngestParseErrorRemovesStoredFile(t *testing.T) {
	rig := newRig(t, testDim)
	_, err := rig.ing.Ingest(context.Background(), IngestRequest{FileName: "broken.pdf", Data: []byte("%PDF-1.4\nnot really")})
	assert.ErrorIs(t, err, core.ErrParse)
	assert.Equal(t, "parse_error", core.KindOf(err))
	assert.Empty(t, rig.storedKeys(t))
}

func TestIngestSameBytesReplaces(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, testDim)
	data := tenPageReport(t)

	first, err := rig.ing.Ingest(ctx, IngestRequest{FileName: "report.pdf", Data: data})
	require.NoError(t, err)
	before := rig.allChunks(t)

	second, err := rig.ing.Ingest(ctx, IngestRequest{FileName: "report-copy.pdf", Data: data})
	require.NoError(t, err)
	assert.True(t, second.Replaced)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Equal(t, first.Document.UploadedAt, second.Document.UploadedAt)

	docs, err := rig.index.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "report-copy.pdf", docs[0].FileName)

	after := rig.allChunks(t)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Text, after[i].Text)
	}
	// the previous upload's file is gone
	assert.Equal(t, []string{second.Document.StorageKey}, rig.storedKeys(t))
}

func TestIngestDimensionMismatchAddsNothing(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, 4)

	_, err := rig.ing.Ingest(ctx, IngestRequest{FileName: "report.pdf", Data: tenPageReport(t)})
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	stats, err := rig.index.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
	assert.Zero(t, stats.Chunks)
	// the upload stays durable and can be re-indexed later
	assert.Len(t, rig.storedKeys(t), 1)
}

func TestDeleteRemovesEntriesAndFile(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, testDim)
	res, err := rig.ing.Ingest(ctx, IngestRequest{FileName: "report.pdf", Data: tenPageReport(t)})
	require.NoError(t, err)

	require.NoError(t, rig.ing.Delete(ctx, res.Document.ID))
	_, err = rig.index.Document(ctx, res.Document.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, rig.allChunks(t))
	assert.Empty(t, rig.storedKeys(t))

	assert.ErrorIs(t, rig.ing.Delete(ctx, res.Document.ID), core.ErrNotFound)
}

func TestReindexFromStoredFile(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, testDim)
	res, err := rig.ing.Ingest(ctx, IngestRequest{FileName: "report.pdf", Data: tenPageReport(t)})
	require.NoError(t, err)
	calls := rig.emb.calls.Load()

	again, err := rig.ing.Reindex(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.True(t, again.Replaced)
	assert.Equal(t, res.Chunks, again.Chunks)
	assert.Greater(t, rig.emb.calls.Load(), calls)

	_, err = rig.ing.Reindex(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRebuildSkipsEncryptedFiles(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, testDim)
	res, err := rig.ing.Ingest(ctx, IngestRequest{FileName: "report.pdf", Data: tenPageReport(t)})
	require.NoError(t, err)

	secret := buildPDF(t, []fixturePage{{paragraphs: []string{"Board minutes."}}}, "s3cret")
	secretKey := objectclient.DocumentKey(DocumentID(secret), "minutes.pdf")
	_, err = rig.store.UploadFile(ctx, secretKey, bytes.NewReader(secret), "application/pdf")
	require.NoError(t, err)

	report, err := rig.ing.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res.Document.ID}, report.Indexed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, secretKey, report.Skipped[0].Key)
	assert.Equal(t, "encrypted, password not stored", report.Skipped[0].Reason)

	docs, err := rig.index.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.Chunks, docs[0].ChunkCount)
}

func TestQueuedFilesAreIngested(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rig := newRig(t, testDim)
	rig.ing.Start(ctx, 2)

	path := filepath.Join(t.TempDir(), "queued.pdf")
	require.NoError(t, os.WriteFile(path, tenPageReport(t), 0o644))
	require.NoError(t, rig.ing.Enqueue(ctx, IngestJob{Path: path}))

	require.Eventually(t, func() bool {
		docs, err := rig.index.Documents(ctx)
		return err == nil && len(docs) == 1 && docs[0].FileName == "queued.pdf"
	}, 10*time.Second, 20*time.Millisecond)
}

func TestEnqueueFullQueueReturnsOnCancel(t *testing.T) {
	ing := NewDocumentIngestor(nil, nil, nil, nil, nil, NewChunker(),
		&IngestConfig{EmbedDim: testDim, QueueSize: 1}, zerolog.Nop(), nil)
	require.NoError(t, ing.Enqueue(context.Background(), IngestJob{Path: "first.pdf"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Enqueue(ctx, IngestJob{Path: "second.pdf"}) }()

	select {
	case err := <-done:
		t.Fatalf("enqueue into a full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue still blocked after cancel")
	}
}

func TestWatcherQueuesNewPDFs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rig := newRig(t, testDim)
	rig.ing.Start(ctx, 1)

	dir := t.TempDir()
	w := NewWatcher(dir, 50*time.Millisecond, rig.ing.Enqueue, zerolog.Nop())
	require.NoError(t, w.Run(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("text"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inbox.pdf"), tenPageReport(t), 0o644))

	require.Eventually(t, func() bool {
		docs, err := rig.index.Documents(ctx)
		return err == nil && len(docs) == 1 && docs[0].FileName == "inbox.pdf"
	}, 10*time.Second, 20*time.Millisecond)
}
