package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/models"
)

const ocrInstruction = `Transcribe all text visible in the image exactly as written, keeping line breaks.
If the image is a chart or diagram, also list its labels, legend entries and values.
Reply with JSON only: {"text": "<transcription>", "confidence": <number between 0 and 1>}.
Use an empty text and confidence 0 when the image holds no readable text.`

// GeminiOCR recognizes text with a multimodal Gemini model.
type GeminiOCR struct {
	client    *genai.Client
	modelName string
}

func NewGeminiOCR(ctx context.Context, apiKey, modelName string) (*GeminiOCR, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiOCR{client: cl, modelName: modelName}, nil
}

func (g *GeminiOCR) Name() string { return "gemini" }

func (g *GeminiOCR) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiOCR) Recognize(ctx context.Context, image []byte, format string) (models.OCRResult, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(ocrInstruction)}}

	resp, err := m.GenerateContent(ctx, genai.ImageData(imageSubtype(format), image))
	if err != nil {
		return models.OCRResult{}, fmt.Errorf("gemini ocr: %w", err)
	}
	return parseOCRReply(candidateText(resp))
}

func imageSubtype(format string) string {
	format = strings.ToLower(strings.TrimPrefix(format, "image/"))
	switch format {
	case "jpg":
		return "jpeg"
	case "":
		return "png"
	default:
		return format
	}
}

type ocrReply struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// parseOCRReply reads the model's JSON reply. Output that is not JSON is
// taken as the transcription itself with a neutral confidence.
func parseOCRReply(raw string) (models.OCRResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.OCRResult{}, fmt.Errorf("gemini ocr: empty reply")
	}

	var r ocrReply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return models.OCRResult{Text: raw, Confidence: 0.5}, nil
	}
	conf := 0.5
	if r.Confidence != nil {
		conf = min(max(*r.Confidence, 0), 1)
	}
	if strings.TrimSpace(r.Text) == "" {
		conf = 0
	}
	return models.OCRResult{Text: strings.TrimSpace(r.Text), Confidence: conf}, nil
}

var _ core.OCREngine = (*GeminiOCR)(nil)
