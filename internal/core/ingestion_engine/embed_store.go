package ingestion_engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

// EntryID is the stable index entry ID of chunk index of a document.
func EntryID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(documentID+"#"+strconv.Itoa(index))).String()
}

// embedChunks consumes chunks, embeds them in batches and returns the index entries
// in chunk order. Nothing is written here; the caller adds all entries at once.
//
// in:        chunk stream from streamChunks.
// batchSize: number of chunks per provider call.
// embedDim:  required vector length.
func (i *DocumentIngestor) embedChunks(
	ctx context.Context,
	docID string,
	in <-chan models.Chunk,
	batchSize int,
	embedDim int,
) ([]models.IndexEntry, error) {
	if batchSize <= 0 {
		batchSize = 16
	}
	var (
		entries []models.IndexEntry
		batch   = make([]models.Chunk, 0, batchSize)
	)

	// flush embeds the current batch and appends its entries.
	flush := func(items []models.Chunk) error {
		if len(items) == 0 {
			return nil
		}

		texts := make([]string, len(items))
		for idx := range items {
			texts[idx] = items[idx].Text
		}

		vecs, err := i.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return core.EmbeddingError("embed", err)
		}
		if len(vecs) != len(items) {
			return core.EmbeddingError("embed", fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(items)))
		}

		for k := range items {
			if embedDim > 0 && len(vecs[k]) != embedDim {
				return core.EmbeddingError("embed", fmt.Errorf("%w: chunk %d has %d, want %d",
					core.ErrDimensionMismatch, items[k].Index, len(vecs[k]), embedDim))
			}
			entries = append(entries, models.IndexEntry{
				ID:     EntryID(docID, items[k].Index),
				Chunk:  items[k],
				Vector: vecs[k],
			})
		}
		return nil
	}

	// Read the stream and flush in batches.
	for c := range in {
		batch = append(batch, c)
		if len(batch) == batchSize {
			if err := flush(batch); err != nil {
				return nil, err
			}
			batch = batch[:0]
		}
	}
	// Final tail.
	if err := flush(batch); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
