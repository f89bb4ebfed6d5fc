package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/markdave123-py/citedoc/internal/core"
)

// LangChainLLM drives any langchaingo chat model (OpenAI compatible or Ollama).
type LangChainLLM struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

func NewLangChainLLM(model llms.Model, temperature float64, maxTokens int) *LangChainLLM {
	return &LangChainLLM{model: model, temperature: temperature, maxTokens: maxTokens}
}

func (l *LangChainLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msgs := make([]llms.MessageContent, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, userPrompt))

	resp, err := l.model.GenerateContent(ctx, msgs,
		llms.WithTemperature(l.temperature),
		llms.WithMaxTokens(l.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("langchain generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

// LangChainEmbedder adapts a langchaingo embedder.
type LangChainEmbedder struct {
	embedder  embeddings.Embedder
	modelName string
}

func NewLangChainEmbedder(client embeddings.EmbedderClient, modelName string, batchSize int) (*LangChainEmbedder, error) {
	e, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, err
	}
	return &LangChainEmbedder{embedder: e, modelName: modelName}, nil
}

func (l *LangChainEmbedder) ModelName() string { return l.modelName }

func (l *LangChainEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := l.embedder.EmbedDocuments(ctx, append([]string(nil), texts...))
	if err != nil {
		return nil, fmt.Errorf("langchain embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("langchain embed: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

func newOpenAI(apiKey, baseURL, model, embedModel string) (*openai.LLM, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if embedModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(embedModel))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return openai.New(opts...)
}

func newOllama(serverURL, model string) (*ollama.LLM, error) {
	return ollama.New(ollama.WithModel(model), ollama.WithServerURL(serverURL))
}

var (
	_ core.LLMProvider       = (*LangChainLLM)(nil)
	_ core.EmbeddingProvider = (*LangChainEmbedder)(nil)
)
