package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

type memoryEntry struct {
	ID      string       `msgpack:"id"`
	Ordinal uint64       `msgpack:"ordinal"`
	Chunk   models.Chunk `msgpack:"chunk"`
	Vector  []float32    `msgpack:"vector"`
	norm    float64
}

// memoryState is immutable once published; writers build a new one.
type memoryState struct {
	reg     *registry
	entries []memoryEntry // sorted by (ordinal, chunk index)
}

type memorySnapshot struct {
	Version  int           `msgpack:"version"`
	Metric   Metric        `msgpack:"metric"`
	Dim      int           `msgpack:"dim"`
	Registry *registry     `msgpack:"registry"`
	Entries  []memoryEntry `msgpack:"entries"`
}

// Memory is an exhaustive in-process index persisted as a single snapshot file.
// Searches run against an immutable state and never block on writers.
type Memory struct {
	path   string
	metric Metric
	dim    int
	log    zerolog.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	state   *memoryState
}

// NewMemory returns an empty index. An empty path disables persistence.
func NewMemory(path string, metric Metric, dim int, log zerolog.Logger) *Memory {
	return &Memory{
		path:   path,
		metric: metric,
		dim:    dim,
		log:    log.With().Str("component", "memory_index").Logger(),
		state:  &memoryState{reg: newRegistry()},
	}
}

// Load replaces the in-memory state with the snapshot on disk, if there is one.
func (m *Memory) Load() error {
	if m.path == "" {
		return nil
	}
	var snap memorySnapshot
	err := readSnapshot(m.path, &snap)
	if errors.Is(err, os.ErrNotExist) {
		m.log.Info().Str("path", m.path).Msg("no index snapshot, starting empty")
		return nil
	}
	if err != nil {
		return err
	}
	if snap.Metric != m.metric || snap.Dim != m.dim {
		return core.IndexError("load snapshot", fmt.Errorf("%w: snapshot is %s/%d, index configured %s/%d",
			core.ErrIndexCorrupt, snap.Metric, snap.Dim, m.metric, m.dim))
	}
	if snap.Registry == nil {
		snap.Registry = newRegistry()
	}
	for i := range snap.Entries {
		if len(snap.Entries[i].Vector) != m.dim {
			return core.IndexError("load snapshot", fmt.Errorf("%w: entry %s has wrong dimension",
				core.ErrIndexCorrupt, snap.Entries[i].ID))
		}
		snap.Entries[i].norm = Norm(snap.Entries[i].Vector)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	m.state = &memoryState{reg: snap.Registry, entries: snap.Entries}
	m.mu.Unlock()

	m.log.Info().Int("documents", len(snap.Registry.Documents)).Int("chunks", len(snap.Entries)).Msg("index snapshot loaded")
	return nil
}

func (m *Memory) current() *memoryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// commit persists next and only then publishes it, so a failed write leaves the index unchanged.
func (m *Memory) commit(op string, next *memoryState) error {
	if m.path != "" {
		snap := memorySnapshot{
			Version:  snapshotVersion,
			Metric:   m.metric,
			Dim:      m.dim,
			Registry: next.reg,
			Entries:  next.entries,
		}
		if err := writeSnapshot(m.path, snap); err != nil {
			return core.IndexError(op, err)
		}
	}
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
	return nil
}

// Add stores doc and its entries, replacing any entries already held for doc.ID.
func (m *Memory) Add(ctx context.Context, doc models.Document, entries []models.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkEntries(m.dim, entries); err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.current()
	reg := cur.reg.clone()
	ord := reg.ordinal(doc.ID)
	doc.ChunkCount = len(entries)
	reg.Documents[doc.ID] = doc

	next := make([]memoryEntry, 0, len(cur.entries)+len(entries))
	for _, e := range cur.entries {
		if e.Chunk.DocumentID != doc.ID {
			next = append(next, e)
		}
	}
	for _, e := range entries {
		next = append(next, memoryEntry{
			ID:      e.ID,
			Ordinal: ord,
			Chunk:   e.Chunk,
			Vector:  slices.Clone(e.Vector),
			norm:    Norm(e.Vector),
		})
	}
	slices.SortStableFunc(next, compareEntries)

	return m.commit("add", &memoryState{reg: reg, entries: next})
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.current()
	if _, ok := cur.reg.Documents[id]; !ok {
		return core.NotFoundError("delete", fmt.Errorf("document %s", id))
	}
	reg := cur.reg.clone()
	delete(reg.Documents, id)

	next := make([]memoryEntry, 0, len(cur.entries))
	for _, e := range cur.entries {
		if e.Chunk.DocumentID != id {
			next = append(next, e)
		}
	}
	return m.commit("delete", &memoryState{reg: reg, entries: next})
}

// Search scores every entry against query and returns the best k.
func (m *Memory) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	if err := checkQuery(m.dim, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []models.SearchHit{}, nil
	}
	st := m.current()
	qn := Norm(query)

	hits := make([]rankedHit, 0, len(st.entries))
	for i, e := range st.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits = append(hits, rankedHit{
			ordinal: e.Ordinal,
			hit: models.SearchHit{
				ID:    e.ID,
				Chunk: e.Chunk,
				Score: m.metric.Score(query, e.Vector, qn, e.norm),
			},
		})
	}
	return rankHits(hits, k), nil
}

func (m *Memory) Document(_ context.Context, id string) (*models.Document, error) {
	doc, ok := m.current().reg.Documents[id]
	if !ok {
		return nil, core.NotFoundError("get document", fmt.Errorf("document %s", id))
	}
	return &doc, nil
}

func (m *Memory) Documents(_ context.Context) ([]models.Document, error) {
	return m.current().reg.sortedDocuments(), nil
}

func (m *Memory) Stats(_ context.Context) (models.IndexStats, error) {
	st := m.current()
	return models.IndexStats{
		Backend:   "memory",
		Metric:    string(m.metric),
		Dimension: m.dim,
		Documents: len(st.reg.Documents),
		Chunks:    len(st.entries),
	}, nil
}

// Reset drops every entry. Ordinals are kept so a rebuild reproduces the previous order.
func (m *Memory) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	reg := m.current().reg.clone()
	reg.Documents = map[string]models.Document{}
	return m.commit("reset", &memoryState{reg: reg})
}

func (m *Memory) Close() error { return nil }

func compareEntries(a, b memoryEntry) int {
	switch {
	case a.Ordinal < b.Ordinal:
		return -1
	case a.Ordinal > b.Ordinal:
		return 1
	default:
		return a.Chunk.Index - b.Chunk.Index
	}
}
