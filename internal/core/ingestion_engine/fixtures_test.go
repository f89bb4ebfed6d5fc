package ingestion_engine

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/require"
)

type fixturePage struct {
	heading    string
	paragraphs []string
	table      [][]string
	image      bool
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// buildPDF renders pages with core fonts. A non-empty password encrypts the file.
func buildPDF(t *testing.T, pages []fixturePage, password string) []byte {
	t.Helper()
	pdf := fpdf.New("P", "mm", "A4", "")
	if password != "" {
		pdf.SetProtection(fpdf.CnProtectPrint, password, "owner-"+password)
	}

	registered := false
	for _, p := range pages {
		pdf.AddPage()
		if p.heading != "" {
			pdf.SetFont("Helvetica", "B", 18)
			pdf.CellFormat(0, 10, p.heading, "", 1, "L", false, 0, "")
			pdf.Ln(4)
		}
		pdf.SetFont("Helvetica", "", 11)
		for _, para := range p.paragraphs {
			pdf.MultiCell(0, 5, para, "", "L", false)
			pdf.Ln(6)
		}
		for _, row := range p.table {
			for _, cell := range row {
				pdf.CellFormat(40, 7, cell, "1", 0, "L", false, 0, "")
			}
			pdf.Ln(7)
		}
		if p.table != nil {
			pdf.Ln(6)
		}
		if p.image {
			if !registered {
				pdf.RegisterImageOptionsReader("chart", fpdf.ImageOptions{ImageType: "JPG"}, bytes.NewReader(testJPEG(t)))
				registered = true
			}
			pdf.ImageOptions("chart", 20, pdf.GetY(), 40, 40, true, fpdf.ImageOptions{ImageType: "JPG"}, 0, "")
		}
	}

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

// tenPageReport has a revenue table on page 3 and a chart image on page 7.
func tenPageReport(t *testing.T) []byte {
	t.Helper()
	pages := make([]fixturePage, 10)
	for i := range pages {
		pages[i] = fixturePage{paragraphs: []string{
			fmt.Sprintf("Page %d discusses operations for the period. Staffing levels were stable and no incidents were reported.", i+1),
		}}
	}
	pages[0].heading = "Annual Report"
	pages[2].heading = "Regional Revenue"
	pages[2].table = [][]string{
		{"Region", "Revenue", "Growth"},
		{"North", "120", "4%"},
		{"South", "95", "2%"},
	}
	pages[6].heading = "Revenue Chart"
	pages[6].image = true
	return buildPDF(t, pages, "")
}
