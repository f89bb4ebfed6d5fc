package vectorindex

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

const chunkCollection = "chunks"

const (
	metaDocID   = "doc_id"
	metaOrdinal = "ordinal"
	metaIndex   = "index"
	metaChunk   = "chunk"
)

type chromemSnapshot struct {
	Version  int       `msgpack:"version"`
	Dim      int       `msgpack:"dim"`
	Registry *registry `msgpack:"registry"`
	Data     []byte    `msgpack:"data"` // chromem export of the chunk collection
}

// Chromem keeps chunks in a chromem-go collection. chromem only supports
// cosine similarity; vectors are normalized on insert.
type Chromem struct {
	path string
	key  string
	dim  int
	log  zerolog.Logger

	mu       sync.RWMutex
	db       *chromem.DB
	col      *chromem.Collection
	reg      *registry
	lastGood []byte
}

// DeriveSnapshotKey stretches secret into the 32 byte AES key chromem expects.
// An empty secret disables snapshot encryption.
func DeriveSnapshotKey(secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("citedoc index snapshot"))
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("derive snapshot key: %w", err)
	}
	return string(key), nil
}

func NewChromem(path, key string, dim int, log zerolog.Logger) (*Chromem, error) {
	c := &Chromem{
		path: path,
		key:  key,
		dim:  dim,
		log:  log.With().Str("component", "chromem_index").Logger(),
	}
	db, col, err := openCollection(nil, key)
	if err != nil {
		return nil, core.IndexError("open", err)
	}
	c.db, c.col, c.reg = db, col, newRegistry()
	return c, nil
}

// noEmbed rejects text queries; every vector comes from the embedding provider.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index stores precomputed embeddings only")
}

func openCollection(data []byte, key string) (*chromem.DB, *chromem.Collection, error) {
	db := chromem.NewDB()
	if len(data) > 0 {
		if err := db.ImportFromReader(bytes.NewReader(data), key, chunkCollection); err != nil {
			return nil, nil, fmt.Errorf("import collection: %w", err)
		}
	}
	col, err := db.GetOrCreateCollection(chunkCollection, nil, noEmbed)
	if err != nil {
		return nil, nil, err
	}
	return db, col, nil
}

func (c *Chromem) Load() error {
	if c.path == "" {
		return nil
	}
	var snap chromemSnapshot
	err := readSnapshot(c.path, &snap)
	if errors.Is(err, os.ErrNotExist) {
		c.log.Info().Str("path", c.path).Msg("no index snapshot, starting empty")
		return nil
	}
	if err != nil {
		return err
	}
	if snap.Dim != c.dim {
		return core.IndexError("load snapshot", fmt.Errorf("%w: snapshot dimension %d, index configured %d",
			core.ErrIndexCorrupt, snap.Dim, c.dim))
	}
	db, col, err := openCollection(snap.Data, c.key)
	if err != nil {
		return core.IndexError("load snapshot", fmt.Errorf("%w: %v", core.ErrIndexCorrupt, err))
	}
	if snap.Registry == nil {
		snap.Registry = newRegistry()
	}

	c.mu.Lock()
	c.db, c.col, c.reg, c.lastGood = db, col, snap.Registry, snap.Data
	c.mu.Unlock()

	c.log.Info().Int("documents", len(snap.Registry.Documents)).Int("chunks", col.Count()).Msg("index snapshot loaded")
	return nil
}

// persist writes the collection and reg. On failure the collection is rebuilt
// from the last good export so memory and disk stay in step. Callers hold c.mu.
func (c *Chromem) persist(op string, reg *registry) error {
	if c.path == "" {
		c.reg = reg
		return nil
	}
	var buf bytes.Buffer
	err := c.db.ExportToWriter(&buf, true, c.key, chunkCollection)
	if err == nil {
		err = writeSnapshot(c.path, chromemSnapshot{
			Version:  snapshotVersion,
			Dim:      c.dim,
			Registry: reg,
			Data:     buf.Bytes(),
		})
	}
	if err != nil {
		c.rollback()
		return core.IndexError(op, err)
	}
	c.reg, c.lastGood = reg, buf.Bytes()
	return nil
}

func (c *Chromem) rollback() {
	if c.path == "" {
		c.log.Warn().Msg("index has no snapshot to restore from, keeping partial state")
		return
	}
	db, col, err := openCollection(c.lastGood, c.key)
	if err != nil {
		c.log.Error().Err(err).Msg("restore collection after failed snapshot")
		return
	}
	c.db, c.col = db, col
}

func (c *Chromem) Add(ctx context.Context, doc models.Document, entries []models.IndexEntry) error {
	if err := checkEntries(c.dim, entries); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	reg := c.reg.clone()
	ord := reg.ordinal(doc.ID)
	doc.ChunkCount = len(entries)
	reg.Documents[doc.ID] = doc

	docs := make([]chromem.Document, 0, len(entries))
	for _, e := range entries {
		encoded, err := msgpack.Marshal(e.Chunk)
		if err != nil {
			return core.IndexError("add", fmt.Errorf("encode chunk: %w", err))
		}
		docs = append(docs, chromem.Document{
			ID: e.ID,
			Metadata: map[string]string{
				metaDocID:   doc.ID,
				metaOrdinal: strconv.FormatUint(ord, 10),
				metaIndex:   strconv.Itoa(e.Chunk.Index),
				metaChunk:   base64.StdEncoding.EncodeToString(encoded),
			},
			Embedding: append([]float32(nil), e.Vector...),
			Content:   e.Chunk.Text,
		})
	}

	if err := c.col.Delete(ctx, map[string]string{metaDocID: doc.ID}, nil); err != nil {
		return core.IndexError("add", fmt.Errorf("drop previous entries: %w", err))
	}
	if len(docs) > 0 {
		if err := c.col.AddDocuments(ctx, docs, 1); err != nil {
			c.rollback()
			return core.IndexError("add", err)
		}
	}
	return c.persist("add", reg)
}

func (c *Chromem) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.reg.Documents[id]; !ok {
		return core.NotFoundError("delete", fmt.Errorf("document %s", id))
	}
	reg := c.reg.clone()
	delete(reg.Documents, id)

	if err := c.col.Delete(ctx, map[string]string{metaDocID: id}, nil); err != nil {
		return core.IndexError("delete", err)
	}
	return c.persist("delete", reg)
}

// Search ranks the whole collection so ties can be broken by insertion order.
func (c *Chromem) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	if err := checkQuery(c.dim, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []models.SearchHit{}, nil
	}
	if Norm(query) == 0 {
		return nil, core.IndexError("search", errors.New("query vector is zero"))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	n := c.col.Count()
	if n == 0 {
		return []models.SearchHit{}, nil
	}
	results, err := c.col.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, core.IndexError("search", err)
	}

	hits := make([]rankedHit, 0, len(results))
	for _, r := range results {
		chunk, ord, err := decodeChunk(r.Metadata)
		if err != nil {
			return nil, core.IndexError("search", fmt.Errorf("entry %s: %w", r.ID, err))
		}
		hits = append(hits, rankedHit{
			ordinal: ord,
			hit:     models.SearchHit{ID: r.ID, Chunk: chunk, Score: float64(r.Similarity)},
		})
	}
	return rankHits(hits, k), nil
}

func decodeChunk(meta map[string]string) (models.Chunk, uint64, error) {
	var chunk models.Chunk
	ord, err := strconv.ParseUint(meta[metaOrdinal], 10, 64)
	if err != nil {
		return chunk, 0, fmt.Errorf("bad ordinal: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(meta[metaChunk])
	if err != nil {
		return chunk, 0, fmt.Errorf("bad chunk payload: %w", err)
	}
	if err := msgpack.Unmarshal(raw, &chunk); err != nil {
		return chunk, 0, fmt.Errorf("bad chunk payload: %w", err)
	}
	return chunk, ord, nil
}

func (c *Chromem) Document(_ context.Context, id string) (*models.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.reg.Documents[id]
	if !ok {
		return nil, core.NotFoundError("get document", fmt.Errorf("document %s", id))
	}
	return &doc, nil
}

func (c *Chromem) Documents(_ context.Context) ([]models.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reg.sortedDocuments(), nil
}

func (c *Chromem) Stats(_ context.Context) (models.IndexStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.IndexStats{
		Backend:   "chromem",
		Metric:    string(Cosine),
		Dimension: c.dim,
		Documents: len(c.reg.Documents),
		Chunks:    c.col.Count(),
	}, nil
}

func (c *Chromem) Reset(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, col, err := openCollection(nil, c.key)
	if err != nil {
		return core.IndexError("reset", err)
	}
	c.db, c.col = db, col
	reg := c.reg.clone()
	reg.Documents = map[string]models.Document{}
	return c.persist("reset", reg)
}

func (c *Chromem) Close() error { return nil }
