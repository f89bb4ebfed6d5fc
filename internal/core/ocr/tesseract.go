//go:build tesseract

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/markdave123-py/citedoc/internal/models"
)

// Tesseract runs the local tesseract library through cgo.
type Tesseract struct {
	languages []string
}

func NewTesseract(languages []string) (*Tesseract, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if len(languages) > 0 {
		if err := client.SetLanguage(languages...); err != nil {
			return nil, fmt.Errorf("tesseract languages: %w", err)
		}
	}
	return &Tesseract{languages: languages}, nil
}

func (t *Tesseract) Name() string { return "tesseract" }

// Recognize returns the page text and the mean word confidence.
// A gosseract client is not safe for concurrent use, so each call gets its own.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, _ string) (models.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return models.OCRResult{}, err
	}

	type result struct {
		res models.OCRResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := t.recognize(image)
		done <- result{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		// the cgo call cannot be interrupted; its result is dropped
		return models.OCRResult{}, ctx.Err()
	case r := <-done:
		return r.res, r.err
	}
}

func (t *Tesseract) recognize(image []byte) (models.OCRResult, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return models.OCRResult{}, fmt.Errorf("tesseract languages: %w", err)
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return models.OCRResult{}, fmt.Errorf("tesseract image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return models.OCRResult{}, fmt.Errorf("tesseract text: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return models.OCRResult{}, fmt.Errorf("tesseract boxes: %w", err)
	}
	conf := make([]float64, 0, len(boxes))
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) != "" {
			conf = append(conf, b.Confidence/100)
		}
	}
	return models.OCRResult{Text: strings.TrimSpace(text), Confidence: meanConfidence(conf)}, nil
}
