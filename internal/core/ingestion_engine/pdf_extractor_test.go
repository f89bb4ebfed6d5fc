package ingestion_engine

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

func elementsOfType(page []models.PageElement, typ models.ElementType) []models.PageElement {
	var out []models.PageElement
	for _, el := range page {
		if el.Type == typ {
			out = append(out, el)
		}
	}
	return out
}

func TestExtractTenPageReport(t *testing.T) {
	ex := NewPDFExtractor(zerolog.Nop())
	doc, err := ex.Extract(context.Background(), tenPageReport(t), "")
	require.NoError(t, err)
	require.Equal(t, 10, doc.PageCount)
	require.Len(t, doc.Pages, 10)

	first := doc.Pages[0]
	require.NotEmpty(t, first)
	assert.Equal(t, "Annual Report", first[0].Content)
	assert.Equal(t, "Annual Report", first[0].Section)

	for i, page := range doc.Pages {
		texts := elementsOfType(page, models.ElementText)
		require.NotEmpty(t, texts, "page %d", i+1)
		var all []string
		for _, el := range texts {
			assert.Equal(t, i+1, el.Page)
			all = append(all, el.Content)
		}
		assert.Contains(t, strings.Join(all, "\n"), "discusses operations for the period")
	}

	tables := elementsOfType(doc.Pages[2], models.ElementTable)
	require.Len(t, tables, 1)
	assert.Equal(t, "Table 1", tables[0].Ref)
	assert.Equal(t, "Regional Revenue", tables[0].Section)
	assert.Equal(t, "Region | Revenue | Growth\nNorth | 120 | 4%\nSouth | 95 | 2%", tables[0].Content)

	for i, page := range doc.Pages {
		images := elementsOfType(page, models.ElementImage)
		if i == 6 {
			require.Len(t, images, 1)
			assert.Equal(t, "Image 1", images[0].Ref)
			assert.Equal(t, "jpeg", images[0].ImageFormat)
			assert.NotEmpty(t, images[0].Image)
			assert.Empty(t, images[0].Content)
			continue
		}
		assert.Empty(t, images, "page %d", i+1)
		if i != 2 {
			assert.Empty(t, elementsOfType(page, models.ElementTable), "page %d", i+1)
		}
	}
}

func TestExtractRejectsNonPDF(t *testing.T) {
	ex := NewPDFExtractor(zerolog.Nop())

	_, err := ex.Extract(context.Background(), []byte("hello, not a pdf"), "")
	assert.ErrorIs(t, err, core.ErrParse)

	_, err = ex.Extract(context.Background(), []byte("%PDF-1.4\ntruncated"), "")
	assert.ErrorIs(t, err, core.ErrParse)
}

func TestExtractEncrypted(t *testing.T) {
	ex := NewPDFExtractor(zerolog.Nop())
	data := buildPDF(t, []fixturePage{{paragraphs: []string{"Confidential figures for the board."}}}, "s3cret")

	_, err := ex.Extract(context.Background(), data, "")
	assert.ErrorIs(t, err, core.ErrParse)
	assert.ErrorIs(t, err, core.ErrEncrypted)

	_, err = ex.Extract(context.Background(), data, "wrong")
	assert.ErrorIs(t, err, core.ErrEncrypted)

	doc, err := ex.Extract(context.Background(), data, "s3cret")
	require.NoError(t, err)
	require.Equal(t, 1, doc.PageCount)
	require.NotEmpty(t, doc.Pages[0])
	assert.Equal(t, "Confidential figures for the board.", doc.Pages[0][0].Content)
}

func TestExtractHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPDFExtractor(zerolog.Nop()).Extract(ctx, tenPageReport(t), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOnPage(t *testing.T) {
	imgs := []pageImage{{name: "I1", objNr: 4}, {name: "I2", objNr: 9}}

	assert.Equal(t, imgs, onPage(imgs, nil))
	assert.Empty(t, onPage(imgs, map[string]bool{}))
	assert.Equal(t, imgs[1:], onPage(imgs, map[string]bool{"I2": true}))
	// an unknown XObject may wrap the images
	assert.Equal(t, imgs, onPage(imgs, map[string]bool{"Fm1": true}))
}

func TestImageFormat(t *testing.T) {
	assert.Equal(t, "jpeg", imageFormat("jpg"))
	assert.Equal(t, "tiff", imageFormat("tif"))
	assert.Equal(t, "png", imageFormat("png"))
	assert.Equal(t, "png", imageFormat(""))
}
