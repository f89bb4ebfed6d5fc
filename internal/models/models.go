package models

import (
	"strconv"
	"time"
)

// ElementType classifies a unit of extracted page content.
type ElementType string

const (
	ElementText  ElementType = "text"
	ElementTable ElementType = "table"
	ElementImage ElementType = "image"
)

// Document represents an uploaded PDF and the bookkeeping of its indexed chunks.
type Document struct {
	ID         string    `json:"id" msgpack:"id"`
	FileName   string    `json:"file_name" msgpack:"file_name"`
	PageCount  int       `json:"page_count" msgpack:"page_count"`
	ChunkCount int       `json:"chunk_count" msgpack:"chunk_count"`
	SizeBytes  int64     `json:"size_bytes" msgpack:"size_bytes"`
	StorageKey string    `json:"storage_key" msgpack:"storage_key"` // object storage key of the raw file
	UploadedAt time.Time `json:"uploaded_at" msgpack:"uploaded_at"`
	IndexedAt  time.Time `json:"indexed_at" msgpack:"indexed_at"`
}

// PageElement is one unit of extracted content: a text block, a table or an image.
type PageElement struct {
	Page          int         `json:"page"`
	Type          ElementType `json:"type"`
	Content       string      `json:"content"`
	Ref           string      `json:"ref,omitempty"` // "Table 1", "Image 2"
	Section       string      `json:"section,omitempty"`
	Confidence    *float64    `json:"confidence,omitempty"` // OCR confidence in [0,1], images only
	LowConfidence bool        `json:"low_confidence,omitempty"`
	OCRFailed     bool        `json:"ocr_failed,omitempty"`
	Image         []byte      `json:"-"`
	ImageFormat   string      `json:"-"`
}

// ExtractedDocument holds the per-page element sequences of a parsed PDF.
type ExtractedDocument struct {
	PageCount int
	Pages     [][]PageElement // Pages[i] holds page i+1 in reading order
}

// Elements flattens the per-page sequences in page order.
func (d *ExtractedDocument) Elements() []PageElement {
	var out []PageElement
	for _, p := range d.Pages {
		out = append(out, p...)
	}
	return out
}

// OCRResult is the raw output of an OCR engine.
type OCRResult struct {
	Text       string
	Confidence float64
}

// Chunk is a bounded, citable span of normalized content.
type Chunk struct {
	DocumentID    string        `json:"document_id" msgpack:"document_id"`
	FileName      string        `json:"file_name" msgpack:"file_name"`
	Index         int           `json:"index" msgpack:"index"`
	Text          string        `json:"text" msgpack:"text"`
	Pages         []int         `json:"pages" msgpack:"pages"`
	Types         []ElementType `json:"types" msgpack:"types"`
	Refs          []ElementRef  `json:"refs,omitempty" msgpack:"refs"`
	ContentPages  []int         `json:"content_pages" msgpack:"content_pages"` // pages holding the chunk's own content
	Section       string        `json:"section,omitempty" msgpack:"section"`
	LowConfidence bool          `json:"low_confidence,omitempty" msgpack:"low_confidence"`
	OverlapChars  int           `json:"overlap_chars" msgpack:"overlap_chars"` // leading chars shared with the previous chunk
}

// ElementRef locates a table or image inside a chunk. Refs are numbered per
// page, so the page is part of the identity.
type ElementRef struct {
	Page int         `json:"page" msgpack:"page"`
	Type ElementType `json:"type" msgpack:"type"`
	Ref  string      `json:"ref" msgpack:"ref"`
}

func (r ElementRef) String() string {
	return r.Ref + " on page " + strconv.Itoa(r.Page)
}

// SourcePages are the pages a citation may name: the pages of the chunk's own
// content, without pages only carried for overlap or page coverage.
func (c Chunk) SourcePages() []int {
	if len(c.ContentPages) > 0 {
		return c.ContentPages
	}
	return c.Pages
}

// HasType reports whether the chunk references an element of type t.
func (c Chunk) HasType(t ElementType) bool {
	for _, ct := range c.Types {
		if ct == t {
			return true
		}
	}
	return false
}

// PrimaryType is the most specific element type referenced by the chunk.
func (c Chunk) PrimaryType() ElementType {
	switch {
	case c.HasType(ElementTable):
		return ElementTable
	case c.HasType(ElementImage):
		return ElementImage
	default:
		return ElementText
	}
}

// IndexEntry pairs a chunk with its embedding vector.
type IndexEntry struct {
	ID     string    `msgpack:"id"`
	Chunk  Chunk     `msgpack:"chunk"`
	Vector []float32 `msgpack:"vector"`
}

// SearchHit is one result of a vector index search.
type SearchHit struct {
	ID    string
	Chunk Chunk
	Score float64
}

// RankedChunk is a retrieved chunk after the secondary ranking pass.
type RankedChunk struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// Citation links part of an answer back to its source content.
type Citation struct {
	Excerpt       int         `json:"excerpt"`
	DocumentID    string      `json:"document_id"`
	FileName      string      `json:"file_name"`
	Page          int         `json:"page"`
	Pages         []int       `json:"pages"`
	Type          ElementType `json:"type"`
	Ref           string      `json:"ref,omitempty"`
	Score         float64     `json:"score"`
	LowConfidence bool        `json:"low_confidence,omitempty"`
}

// Answer is the generated reply to a question.
type Answer struct {
	Answer    string     `json:"answer"`
	Grounded  bool       `json:"grounded"`
	Citations []Citation `json:"citations"`
}

// IngestResult summarizes one document ingestion.
type IngestResult struct {
	Document      Document `json:"document"`
	Chunks        int      `json:"chunks_created"`
	Tables        int      `json:"tables"`
	Images        int      `json:"images"`
	LowConfidence int      `json:"low_confidence_images"`
	OCRFailures   int      `json:"ocr_failures"`
	Replaced      bool     `json:"replaced"`
}

// IndexStats describes the current vector index.
type IndexStats struct {
	Backend   string `json:"backend"`
	Metric    string `json:"metric"`
	Dimension int    `json:"dimension"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
}

// StoredObject is a raw file held in object storage.
type StoredObject struct {
	Key        string
	Size       int64
	ModifiedAt time.Time
}
