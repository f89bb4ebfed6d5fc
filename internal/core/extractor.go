package core

import (
	"context"

	"github.com/markdave123-py/citedoc/internal/models"
)

// DocumentExtractor turns raw document bytes into per-page element sequences.
// Image elements come back with their bytes set and no text; OCR runs later.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, password string) (*models.ExtractedDocument, error)
}
