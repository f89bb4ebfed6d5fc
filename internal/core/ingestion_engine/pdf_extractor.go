package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

var pdfMagic = []byte("%PDF-")

// PDFExtractor implements core.DocumentExtractor. Text and tables come from the
// positioned glyphs of each page; images are pulled out of the page resources
// and returned with empty text for OCR.
type PDFExtractor struct {
	log zerolog.Logger
}

func NewPDFExtractor(log zerolog.Logger) *PDFExtractor {
	return &PDFExtractor{log: log.With().Str("component", "pdf_extractor").Logger()}
}

var _ core.DocumentExtractor = (*PDFExtractor)(nil)

func (e *PDFExtractor) Extract(ctx context.Context, data []byte, password string) (*models.ExtractedDocument, error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, core.ParseError("extract", errors.New("missing %PDF- header"))
	}

	r, err := openPDF(data, password)
	if err != nil {
		return nil, err
	}

	n := r.NumPage()
	if n == 0 {
		return nil, core.ParseError("extract", errors.New("pdf has no pages"))
	}

	pageLines := make([][]layoutLine, n)
	drawn := make([]map[string]bool, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageLines[i-1] = e.readPage(r, i)
		drawn[i-1] = drawnXObjects(r, i)
	}

	images := e.images(data, password)

	layout := &pageLayout{body: bodyFontSize(pageLines)}
	doc := &models.ExtractedDocument{PageCount: n, Pages: make([][]models.PageElement, n)}
	for i := range pageLines {
		els := layout.elements(i+1, pageLines[i])
		for k, img := range onPage(images[i+1], drawn[i]) {
			els = append(els, models.PageElement{
				Page:        i + 1,
				Type:        models.ElementImage,
				Ref:         fmt.Sprintf("Image %d", k+1),
				Section:     layout.section,
				Image:       img.data,
				ImageFormat: img.format,
			})
		}
		doc.Pages[i] = els
	}
	return doc, nil
}

// openPDF parses the cross reference table and, for encrypted files, tries the
// empty password and then the supplied one.
func openPDF(data []byte, password string) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = core.ParseError("open", fmt.Errorf("malformed pdf: %v", rec))
		}
	}()

	tried := false
	pw := func() string {
		if tried {
			return ""
		}
		tried = true
		return password
	}

	r, err = pdf.NewReaderEncrypted(bytes.NewReader(data), int64(len(data)), pw)
	if errors.Is(err, pdf.ErrInvalidPassword) {
		return nil, core.ParseError("open", core.ErrEncrypted)
	}
	if err != nil {
		return nil, core.ParseError("open", err)
	}
	return r, nil
}

// readPage lays out one page. A page the decoder cannot walk comes back empty.
func (e *PDFExtractor) readPage(r *pdf.Reader, num int) (lines []layoutLine) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Warn().Interface("panic", rec).Int("page", num).Msg("page unreadable, leaving it empty")
			lines = nil
		}
	}()

	p := r.Page(num)
	glyphs, err := pageContent(p)
	if err != nil {
		e.log.Warn().Err(err).Int("page", num).Msg("page layout failed, falling back to plain text")
	}
	if lines = buildLines(buildRuns(glyphs)); len(lines) > 0 {
		return lines
	}
	return plainTextLines(pagePlainText(p))
}

// drawnXObjects lists the XObject names a page paints with Do. Resource
// dictionaries are often shared between pages, so only a painted image belongs
// to the page. nil means the content could not be scanned.
func drawnXObjects(r *pdf.Reader, num int) (names map[string]bool) {
	defer func() {
		if rec := recover(); rec != nil {
			names = nil
		}
	}()
	names = map[string]bool{}
	pdf.Interpret(r.Page(num).V.Key("Contents"), func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		if op == "Do" && n == 1 {
			names[args[0].Name()] = true
		}
	})
	return names
}

type pageImage struct {
	name   string
	objNr  int
	data   []byte
	format string
}

// onPage keeps the images the page paints. When the page paints an XObject that
// is not one of the images, such as a form wrapping them, every image is kept.
func onPage(images []pageImage, drawn map[string]bool) []pageImage {
	if drawn == nil {
		return images
	}
	known := map[string]bool{}
	for _, img := range images {
		known[img.name] = true
	}
	for name := range drawn {
		if !known[name] {
			return images
		}
	}
	var out []pageImage
	for _, img := range images {
		if drawn[img.name] {
			out = append(out, img)
		}
	}
	return out
}

// images returns the raster images of every page keyed by page number, in
// object number order. Failures only cost the images, never the document.
func (e *PDFExtractor) images(data []byte, password string) (out map[int][]pageImage) {
	out = map[int][]pageImage{}
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Warn().Interface("panic", rec).Msg("image extraction aborted")
			out = map[int][]pageImage{}
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if password != "" {
		conf.UserPW = password
		conf.OwnerPW = password
	}

	pages, err := api.ExtractImagesRaw(bytes.NewReader(data), nil, conf)
	if err != nil {
		e.log.Warn().Err(err).Msg("image extraction failed, continuing without images")
		return out
	}

	for _, byObj := range pages {
		for objNr, img := range byObj {
			if img.Reader == nil {
				continue
			}
			raw, err := io.ReadAll(img.Reader)
			if err != nil || len(raw) == 0 {
				e.log.Warn().Err(err).Int("page", img.PageNr).Int("obj", objNr).Msg("skipping unreadable image")
				continue
			}
			out[img.PageNr] = append(out[img.PageNr], pageImage{name: img.Name, objNr: objNr, data: raw, format: imageFormat(img.FileType)})
		}
	}
	for page := range out {
		imgs := out[page]
		sort.Slice(imgs, func(i, j int) bool { return imgs[i].objNr < imgs[j].objNr })
	}
	return out
}

func imageFormat(fileType string) string {
	switch fileType {
	case "jpg", "jpeg":
		return "jpeg"
	case "tif", "tiff":
		return "tiff"
	case "jpx":
		return "jp2"
	case "":
		return "png"
	default:
		return fileType
	}
}
