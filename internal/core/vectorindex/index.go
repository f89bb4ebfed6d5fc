package vectorindex

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

// Metric is the similarity function of an index, fixed when the index is created.
type Metric string

const (
	Cosine Metric = "cosine"
	L2     Metric = "l2"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case Cosine, L2:
		return m, nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", s)
	}
}

// Score returns the similarity of a and b; higher is closer.
// L2 distance d is mapped to 1/(1+d) so both metrics sort descending.
func (m Metric) Score(a, b []float32, normA, normB float64) float64 {
	switch m {
	case L2:
		return L2Score(L2Distance(a, b))
	default:
		if normA == 0 || normB == 0 {
			return 0
		}
		return dot(a, b) / (normA * normB)
	}
}

func L2Score(d float64) float64 { return 1 / (1 + d) }

func L2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func Norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// registry tracks indexed documents and their insertion ordinals.
// An ordinal is assigned on a document's first insert and survives deletes,
// so deleting and re-adding a document restores its place in tie-breaks.
type registry struct {
	Documents   map[string]models.Document `msgpack:"documents"`
	Ordinals    map[string]uint64          `msgpack:"ordinals"`
	NextOrdinal uint64                     `msgpack:"next_ordinal"`
}

func newRegistry() *registry {
	return &registry{Documents: map[string]models.Document{}, Ordinals: map[string]uint64{}}
}

func (r *registry) clone() *registry {
	out := &registry{
		Documents:   make(map[string]models.Document, len(r.Documents)),
		Ordinals:    make(map[string]uint64, len(r.Ordinals)),
		NextOrdinal: r.NextOrdinal,
	}
	for k, v := range r.Documents {
		out.Documents[k] = v
	}
	for k, v := range r.Ordinals {
		out.Ordinals[k] = v
	}
	return out
}

func (r *registry) ordinal(docID string) uint64 {
	if ord, ok := r.Ordinals[docID]; ok {
		return ord
	}
	ord := r.NextOrdinal
	r.Ordinals[docID] = ord
	r.NextOrdinal++
	return ord
}

// sortedDocuments lists documents in insertion order.
func (r *registry) sortedDocuments() []models.Document {
	out := make([]models.Document, 0, len(r.Documents))
	for _, d := range r.Documents {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b models.Document) int {
		oa, ob := r.Ordinals[a.ID], r.Ordinals[b.ID]
		switch {
		case oa < ob:
			return -1
		case oa > ob:
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})
	return out
}

func (r *registry) chunkCount() int {
	n := 0
	for _, d := range r.Documents {
		n += d.ChunkCount
	}
	return n
}

func checkEntries(dim int, entries []models.IndexEntry) error {
	for _, e := range entries {
		if len(e.Vector) != dim {
			return core.IndexError("add", fmt.Errorf("%w: entry %s has %d, index has %d",
				core.ErrDimensionMismatch, e.ID, len(e.Vector), dim))
		}
	}
	return nil
}

func checkQuery(dim int, q []float32) error {
	if len(q) != dim {
		return core.IndexError("search", fmt.Errorf("%w: query has %d, index has %d",
			core.ErrDimensionMismatch, len(q), dim))
	}
	return nil
}

// rankHits orders hits by descending score; equal scores keep insertion order
// given by (ordinal, chunk index).
func rankHits(hits []rankedHit, k int) []models.SearchHit {
	slices.SortStableFunc(hits, func(a, b rankedHit) int {
		switch {
		case a.hit.Score > b.hit.Score:
			return -1
		case a.hit.Score < b.hit.Score:
			return 1
		case a.ordinal != b.ordinal:
			if a.ordinal < b.ordinal {
				return -1
			}
			return 1
		default:
			return a.hit.Chunk.Index - b.hit.Chunk.Index
		}
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]models.SearchHit, len(hits))
	for i, h := range hits {
		out[i] = h.hit
	}
	return out
}

type rankedHit struct {
	ordinal uint64
	hit     models.SearchHit
}
