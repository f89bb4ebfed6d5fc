//go:build !tesseract

package ocr

import (
	"context"
	"fmt"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

// Tesseract is unavailable in builds without the tesseract tag.
type Tesseract struct{}

func NewTesseract([]string) (*Tesseract, error) {
	return nil, fmt.Errorf("%w: binary built without the tesseract tag", core.ErrOCRUnavailable)
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Recognize(context.Context, []byte, string) (models.OCRResult, error) {
	return models.OCRResult{}, core.OCRFailure("tesseract", core.ErrOCRUnavailable)
}
