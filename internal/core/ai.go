package core

import (
	"context"

	"github.com/markdave123-py/citedoc/internal/models"
)

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// OCREngine turns an encoded image (png, jpeg, tiff...) into text plus a confidence in [0,1].
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, format string) (models.OCRResult, error)
	Name() string
}
