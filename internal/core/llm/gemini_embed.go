package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/citedoc/internal/core"
)

// geminiMaxBatch is the request limit of BatchEmbedContents.
const geminiMaxBatch = 100

// GeminiEmbedder embeds chunk and question text with a Gemini embedding model.
// The same instance serves ingestion and queries so both land in one vector space.
type GeminiEmbedder struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	modelName string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is empty")
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiEmbedder{client: cl, model: cl.EmbeddingModel(modelName), modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) ModelName() string { return "gemini/" + g.modelName }

// EmbedTexts returns one vector per text, in order. Inputs larger than one
// request are sent as consecutive batches; any failed batch fails the call.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := min(start+geminiMaxBatch, len(texts))
		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *GeminiEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batch := g.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := g.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini batch embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini batch embed: empty vector at %d", i)
		}
		vecs[i] = e.Values
	}
	return vecs, nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
