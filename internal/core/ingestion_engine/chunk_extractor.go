package ingestion_engine

import (
	"context"
	"slices"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

const partSep = "\n\n"

// Chunker packs page elements into bounded, citable chunks.
type Chunker struct {
	size    int
	overlap int
	slack   int
}

type ChunkOption func(*Chunker)

func WithChunkSize(n int) ChunkOption {
	return func(c *Chunker) {
		if n > 0 {
			c.size = n
		}
	}
}

func WithOverlap(n int) ChunkOption {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

func WithSlack(n int) ChunkOption {
	return func(c *Chunker) {
		if n >= 0 {
			c.slack = n
		}
	}
}

// NewChunker defaults to 1000 characters with 200 of overlap and a break search
// window of a fifth of the size. Overlap is clamped to half the chunk size.
func NewChunker(opts ...ChunkOption) *Chunker {
	c := &Chunker{size: 1000, overlap: 200, slack: -1}
	for _, o := range opts {
		o(c)
	}
	if c.slack < 0 {
		c.slack = c.size / 5
	}
	c.slack = min(c.slack, c.size)
	c.overlap = min(c.overlap, c.size/2)
	return c
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// chunkBuilder accumulates the parts of the chunk being filled.
type chunkBuilder struct {
	parts   []string
	runes   int
	pages   map[int]bool // every page, including the overlap seed's
	own     map[int]bool // pages of content added to this chunk
	types   []models.ElementType
	refs    []models.ElementRef
	section string
	low     bool
	overlap int
	content bool // holds more than the overlap seed

	// trailing text part, the only source of overlap
	tail        string
	tailPage    int
	tailSection string
}

func newChunkBuilder() *chunkBuilder {
	return &chunkBuilder{pages: map[int]bool{}, own: map[int]bool{}}
}

// room is how many runes still fit, counting the separator before the next part.
func (b *chunkBuilder) room(size int) int {
	if len(b.parts) == 0 {
		return size
	}
	return size - b.runes - utf8.RuneCountInString(partSep)
}

func (b *chunkBuilder) add(text string, el models.PageElement) {
	if len(b.parts) > 0 {
		b.runes += utf8.RuneCountInString(partSep)
	}
	b.parts = append(b.parts, text)
	b.runes += utf8.RuneCountInString(text)
	b.pages[el.Page] = true
	b.own[el.Page] = true
	b.content = true
	if b.section == "" {
		b.section = el.Section
	}
	if el.LowConfidence {
		b.low = true
	}
	b.addType(el.Type)
	if el.Ref != "" {
		ref := models.ElementRef{Page: el.Page, Type: el.Type, Ref: el.Ref}
		if !slices.Contains(b.refs, ref) {
			b.refs = append(b.refs, ref)
		}
	}
	if el.Type == models.ElementText {
		b.tail, b.tailPage, b.tailSection = text, el.Page, el.Section
	} else {
		b.tail = ""
	}
}

func (b *chunkBuilder) addType(t models.ElementType) {
	for _, have := range b.types {
		if have == t {
			return
		}
	}
	b.types = append(b.types, t)
}

// Split packs elements greedily into chunks in reading order. Text is cut at the
// best break inside the slack window; tables and images are never split.
// Pages without indexed content are attached to the chunk covering their position.
func (c *Chunker) Split(doc models.Document, elements []models.PageElement) ([]models.Chunk, error) {
	var (
		out []models.Chunk
		b   = newChunkBuilder()
	)

	// flush emits the current builder and seeds the next one with overlap text.
	flush := func(withOverlap bool) {
		if !b.content {
			return
		}
		out = append(out, c.emit(doc, len(out), b))

		next := newChunkBuilder()
		if withOverlap && c.overlap > 0 && b.tail != "" {
			if seed := overlapSeed(b.tail, c.overlap); seed != "" {
				next.parts = []string{seed}
				next.runes = utf8.RuneCountInString(seed)
				next.pages[b.tailPage] = true
				next.section = b.tailSection
				next.addType(models.ElementText)
				next.overlap = next.runes
			}
		}
		b = next
	}

	for _, el := range elements {
		text := strings.TrimSpace(el.Content)
		if text == "" {
			continue
		}

		if el.Type != models.ElementText {
			n := utf8.RuneCountInString(text)
			if n > b.room(c.size) {
				flush(false)
				b = newChunkBuilder()
			}
			b.add(text, el)
			if b.runes > c.size {
				flush(false)
			}
			continue
		}

		rest := []rune(text)
		for len(rest) > 0 {
			room := b.room(c.size)
			if len(rest) <= room {
				b.add(string(rest), el)
				break
			}
			if b.content && room < c.slack {
				flush(true)
				continue
			}
			cut := findBreak(rest, room, c.slack)
			if cut <= 0 {
				if b.content {
					flush(true)
					continue
				}
				cut = max(room, 1)
			}
			piece := strings.TrimSpace(string(rest[:cut]))
			rest = []rune(strings.TrimLeftFunc(string(rest[cut:]), unicode.IsSpace))
			if piece != "" {
				b.add(piece, el)
			}
			flush(true)
		}
	}
	flush(false)

	if len(out) == 0 {
		return nil, core.ParseError("chunk", core.ErrNoContent)
	}
	coverPages(out, doc.PageCount)
	return out, nil
}

func (c *Chunker) emit(doc models.Document, index int, b *chunkBuilder) models.Chunk {
	types := append([]models.ElementType(nil), b.types...)
	var refs []models.ElementRef
	if len(b.refs) > 0 {
		refs = append(refs, b.refs...)
	}
	return models.Chunk{
		DocumentID:    doc.ID,
		FileName:      doc.FileName,
		Index:         index,
		Text:          strings.Join(b.parts, partSep),
		Pages:         sortedPages(b.pages),
		ContentPages:  sortedPages(b.own),
		Types:         types,
		Refs:          refs,
		Section:       b.section,
		LowConfidence: b.low,
		OverlapChars:  b.overlap,
	}
}

// break strength, strongest last
const (
	breakWord = iota + 1
	breakClause
	breakSentence
	breakParagraph
)

// findBreak returns the rune count of the first piece when text is cut at the
// strongest break in (limit-slack, limit], nearest to limit on ties, or 0.
func findBreak(text []rune, limit, slack int) int {
	if limit >= len(text) {
		return len(text)
	}
	lo := max(limit-slack, 1)
	best, bestAt := 0, 0
	for i := limit; i >= lo; i-- {
		s := breakStrength(text, i)
		if s > best {
			best, bestAt = s, i
			if s == breakParagraph {
				break
			}
		}
	}
	return bestAt
}

// breakStrength rates cutting text between i-1 and i.
func breakStrength(text []rune, i int) int {
	if i <= 0 || i >= len(text) || !unicode.IsSpace(text[i]) {
		return 0
	}
	prev := text[i-1]
	switch {
	case text[i] == '\n' && (prev == '\n' || (i+1 < len(text) && text[i+1] == '\n')):
		return breakParagraph
	case strings.ContainsRune(".!?", prev):
		return breakSentence
	case strings.ContainsRune(",;:)", prev):
		return breakClause
	case unicode.IsSpace(prev):
		return 0
	default:
		return breakWord
	}
}

// overlapSeed takes up to n trailing runes of text, starting at a sentence
// start when one exists in the tail, else at a word start.
func overlapSeed(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return strings.TrimSpace(text)
	}
	tail := r[len(r)-n:]
	for i := 1; i < len(tail); i++ {
		if unicode.IsSpace(tail[i]) && strings.ContainsRune(".!?", tail[i-1]) {
			if s := strings.TrimSpace(string(tail[i:])); s != "" {
				return s
			}
		}
	}
	// drop the partial word at the front
	if unicode.IsSpace(r[len(r)-n-1]) {
		return strings.TrimSpace(string(tail))
	}
	for i, ch := range tail {
		if unicode.IsSpace(ch) {
			return strings.TrimSpace(string(tail[i:]))
		}
	}
	return ""
}

// coverPages attaches every page from 1 to pageCount that no chunk references
// to the chunk covering the page before it, or the first chunk for leading pages.
// Only Pages grows; ContentPages keeps naming the pages with indexed content.
func coverPages(chunks []models.Chunk, pageCount int) {
	owner := map[int]int{}
	for i, ch := range chunks {
		for _, p := range ch.Pages {
			if _, ok := owner[p]; !ok {
				owner[p] = i
			}
		}
	}
	last := 0
	for p := 1; p <= pageCount; p++ {
		if i, ok := owner[p]; ok {
			// the last chunk touching a page covers the position right after it
			for j := len(chunks) - 1; j >= i; j-- {
				if containsInt(chunks[j].Pages, p) {
					last = j
					break
				}
			}
			continue
		}
		chunks[last].Pages = append(chunks[last].Pages, p)
		sort.Ints(chunks[last].Pages)
		owner[p] = last
	}
}

func sortedPages(set map[int]bool) []int {
	pages := make([]int, 0, len(set))
	for p := range set {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// streamChunks emits chunks in order on a channel tied to the errgroup, so the
// embedding stage can start on the first batch while later ones are queued.
func streamChunks(ctx context.Context, g *errgroup.Group, chunks []models.Chunk) <-chan models.Chunk {
	out := make(chan models.Chunk, 8)
	g.Go(func() error {
		defer close(out)
		for _, ch := range chunks {
			select {
			case out <- ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	return out
}
