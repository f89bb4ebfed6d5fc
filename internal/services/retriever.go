package services

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

// RetrieverConfig controls how many chunks are fetched and how they are re-ranked.
//
// RetrievalK:   hits requested from the vector index.
// ContextK:     chunks handed to the answer generator.
// MinScore:     similarity below which a hit is dropped.
// TableWeight:  multiplier for chunks carrying a table.
// ImageWeight:  multiplier for chunks carrying OCR text.
// LowConfidenceWeight: extra multiplier for chunks with low-confidence OCR.
type RetrieverConfig struct {
	RetrievalK          int
	ContextK            int
	MinScore            float64
	TableWeight         float64
	ImageWeight         float64
	LowConfidenceWeight float64
}

// ChunkRetriever finds the chunks a question should be answered from.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, question string) ([]models.RankedChunk, error)
}

type Retriever struct {
	index    core.VectorIndex
	embedder core.EmbeddingProvider
	cfg      RetrieverConfig
	log      zerolog.Logger
}

func NewRetriever(index core.VectorIndex, emb core.EmbeddingProvider, cfg RetrieverConfig, log zerolog.Logger) *Retriever {
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = 8
	}
	if cfg.ContextK <= 0 || cfg.ContextK > cfg.RetrievalK {
		cfg.ContextK = min(4, cfg.RetrievalK)
	}
	if cfg.TableWeight <= 0 {
		cfg.TableWeight = 1
	}
	if cfg.ImageWeight <= 0 {
		cfg.ImageWeight = 1
	}
	if cfg.LowConfidenceWeight <= 0 {
		cfg.LowConfidenceWeight = 0.9
	}
	return &Retriever{
		index:    index,
		embedder: emb,
		cfg:      cfg,
		log:      log.With().Str("component", "retriever").Logger(),
	}
}

var _ ChunkRetriever = (*Retriever)(nil)

// Retrieve embeds the question with the ingestion model, searches the index and
// re-ranks the hits by element type. The result is deterministic for a fixed index.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]models.RankedChunk, error) {
	vecs, err := r.embedder.EmbedTexts(ctx, []string{question})
	if err == nil && len(vecs) != 1 {
		err = errors.New("no vector returned for question")
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, core.ErrServiceUnavailable) {
			return nil, err
		}
		return nil, core.ServiceUnavailable("embed question", core.EmbeddingError("embed question", err))
	}

	hits, err := r.index.Search(ctx, vecs[0], r.cfg.RetrievalK)
	if err != nil {
		return nil, err
	}

	ranked := make([]models.RankedChunk, 0, len(hits))
	for _, h := range hits {
		if h.Score < r.cfg.MinScore {
			continue
		}
		ranked = append(ranked, models.RankedChunk{
			Chunk:      h.Chunk,
			Similarity: h.Score,
			Score:      h.Score * r.weight(h.Chunk, h.Score),
		})
	}

	// equal scores keep index order
	slices.SortStableFunc(ranked, func(a, b models.RankedChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(ranked) > r.cfg.ContextK {
		ranked = ranked[:r.cfg.ContextK]
	}

	r.log.Debug().Int("hits", len(hits)).Int("kept", len(ranked)).Msg("retrieved context")
	return ranked, nil
}

// weight is the element-type priority of a chunk. Non-positive similarities are not weighted.
func (r *Retriever) weight(c models.Chunk, similarity float64) float64 {
	if similarity <= 0 {
		return 1
	}
	w := 1.0
	switch c.PrimaryType() {
	case models.ElementTable:
		w = r.cfg.TableWeight
	case models.ElementImage:
		w = r.cfg.ImageWeight
	}
	if c.LowConfidence {
		w *= r.cfg.LowConfidenceWeight
	}
	return w
}
