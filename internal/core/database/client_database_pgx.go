package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/core/vectorindex"
	"github.com/markdave123-py/citedoc/internal/models"
)

// PgVectorIndex stores chunks in Postgres and ranks them with pgvector.
// Search is an exact scan; no ANN index is created.
type PgVectorIndex struct {
	db     *sql.DB
	metric vectorindex.Metric
	dim    int
	log    zerolog.Logger
}

func NewPgVectorIndex(db *sql.DB, metric vectorindex.Metric, dim int, log zerolog.Logger) *PgVectorIndex {
	return &PgVectorIndex{
		db:     db,
		metric: metric,
		dim:    dim,
		log:    log.With().Str("component", "pgvector_index").Logger(),
	}
}

// Load creates the schema if needed. A schema built for another dimension or
// metric is reported as a corrupt index.
func (c *PgVectorIndex) Load() error {
	return EnsureBootstrapped(context.Background(), c.db, c.dim, string(c.metric))
}

// distanceOperator returns the pgvector operator for the metric.
func distanceOperator(m vectorindex.Metric) string {
	if m == vectorindex.L2 {
		return "<->"
	}
	return "<=>"
}

// scoreFromDistance turns a pgvector distance into a higher-is-closer score.
func scoreFromDistance(m vectorindex.Metric, d float64) float64 {
	if m == vectorindex.L2 {
		return vectorindex.L2Score(d)
	}
	return 1 - d
}

func (c *PgVectorIndex) Add(ctx context.Context, doc models.Document, entries []models.IndexEntry) (err error) {
	for _, e := range entries {
		if len(e.Vector) != c.dim {
			return core.IndexError("add", fmt.Errorf("%w: entry %s has %d, index has %d",
				core.ErrDimensionMismatch, e.ID, len(e.Vector), c.dim))
		}
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return core.IndexError("add", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO document_ordinals (document_id) VALUES ($1) ON CONFLICT (document_id) DO NOTHING`, doc.ID); err != nil {
		return core.IndexError("add", fmt.Errorf("assign ordinal: %w", err))
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, doc.ID); err != nil {
		return core.IndexError("add", fmt.Errorf("drop previous entries: %w", err))
	}

	const insertDoc = `
		INSERT INTO documents
			(id, file_name, page_count, chunk_count, size_bytes, storage_key, uploaded_at, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err = tx.ExecContext(ctx, insertDoc,
		doc.ID, doc.FileName, doc.PageCount, len(entries), doc.SizeBytes, doc.StorageKey, doc.UploadedAt, doc.IndexedAt); err != nil {
		return core.IndexError("add", fmt.Errorf("insert document: %w", err))
	}

	const insertChunk = `
		INSERT INTO document_chunks (id, document_id, chunk_index, payload, embedding)
		VALUES ($1, $2, $3, $4, $5)
	`
	stmt, err := tx.PrepareContext(ctx, insertChunk)
	if err != nil {
		return core.IndexError("add", err)
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		payload, encErr := msgpack.Marshal(e.Chunk)
		if encErr != nil {
			return core.IndexError("add", fmt.Errorf("encode chunk: %w", encErr))
		}
		if _, err = stmt.ExecContext(ctx, e.ID, doc.ID, e.Chunk.Index, payload, pgvector.NewVector(e.Vector)); err != nil {
			return core.IndexError("add", fmt.Errorf("insert chunk %d: %w", e.Chunk.Index, err))
		}
	}

	if err = tx.Commit(); err != nil {
		return core.IndexError("add", err)
	}
	return nil
}

func (c *PgVectorIndex) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return core.IndexError("delete", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.NotFoundError("delete", fmt.Errorf("document %s", id))
	}
	return nil
}

func (c *PgVectorIndex) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	if len(query) != c.dim {
		return nil, core.IndexError("search", fmt.Errorf("%w: query has %d, index has %d",
			core.ErrDimensionMismatch, len(query), c.dim))
	}
	if k <= 0 {
		return []models.SearchHit{}, nil
	}

	q := fmt.Sprintf(`
		SELECT ch.id, ch.payload, ch.embedding %s $1 AS distance
		FROM document_chunks ch
		JOIN document_ordinals o ON o.document_id = ch.document_id
		ORDER BY distance, o.ordinal, ch.chunk_index
		LIMIT $2
	`, distanceOperator(c.metric))

	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(query), k)
	if err != nil {
		return nil, core.IndexError("search", err)
	}
	defer rows.Close()

	out := make([]models.SearchHit, 0, k)
	for rows.Next() {
		var (
			hit      models.SearchHit
			payload  []byte
			distance float64
		)
		if err := rows.Scan(&hit.ID, &payload, &distance); err != nil {
			return nil, core.IndexError("search", err)
		}
		if err := msgpack.Unmarshal(payload, &hit.Chunk); err != nil {
			return nil, core.IndexError("search", fmt.Errorf("decode chunk %s: %w", hit.ID, err))
		}
		hit.Score = scoreFromDistance(c.metric, distance)
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, core.IndexError("search", err)
	}
	return out, nil
}

const selectDocument = `
	SELECT d.id, d.file_name, d.page_count, d.chunk_count, d.size_bytes, d.storage_key, d.uploaded_at, d.indexed_at
	FROM documents d
`

func scanDocument(row interface{ Scan(...any) error }) (models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.FileName, &d.PageCount, &d.ChunkCount, &d.SizeBytes, &d.StorageKey, &d.UploadedAt, &d.IndexedAt)
	return d, err
}

func (c *PgVectorIndex) Document(ctx context.Context, id string) (*models.Document, error) {
	d, err := scanDocument(c.db.QueryRowContext(ctx, selectDocument+` WHERE d.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundError("get document", fmt.Errorf("document %s", id))
	}
	if err != nil {
		return nil, core.IndexError("get document", err)
	}
	return &d, nil
}

func (c *PgVectorIndex) Documents(ctx context.Context) ([]models.Document, error) {
	rows, err := c.db.QueryContext(ctx, selectDocument+`
		JOIN document_ordinals o ON o.document_id = d.id
		ORDER BY o.ordinal
	`)
	if err != nil {
		return nil, core.IndexError("list documents", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, core.IndexError("list documents", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, core.IndexError("list documents", err)
	}
	return out, nil
}

func (c *PgVectorIndex) Stats(ctx context.Context) (models.IndexStats, error) {
	stats := models.IndexStats{Backend: "pgvector", Metric: string(c.metric), Dimension: c.dim}
	err := c.db.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM documents), (SELECT count(*) FROM document_chunks)
	`).Scan(&stats.Documents, &stats.Chunks)
	if err != nil {
		return stats, core.IndexError("stats", err)
	}
	return stats, nil
}

// Reset drops the document and chunk tables and rebuilds them for the configured
// dimension. Ordinals are kept.
func (c *PgVectorIndex) Reset(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return core.IndexError("reset", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DROP TABLE IF EXISTS document_chunks;
		DROP TABLE IF EXISTS documents;
		DELETE FROM citedoc_meta;
	`); err != nil {
		_ = tx.Rollback()
		return core.IndexError("reset", err)
	}
	if err := tx.Commit(); err != nil {
		return core.IndexError("reset", err)
	}
	if err := runBootstrap(ctx, c.db, c.dim, string(c.metric)); err != nil {
		return core.IndexError("reset", err)
	}
	c.log.Info().Msg("index tables recreated")
	return nil
}

func (c *PgVectorIndex) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
