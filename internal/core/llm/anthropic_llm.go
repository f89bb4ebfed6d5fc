package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/markdave123-py/citedoc/internal/core"
)

type AnthropicLLM struct {
	client      anthropic.Client
	modelName   string
	temperature float64
	maxTokens   int64
}

func NewAnthropicLLM(apiKey, modelName string, temperature float64, maxTokens int) (*AnthropicLLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is empty")
	}
	if modelName == "" {
		modelName = "claude-3-5-haiku-latest"
	}
	return &AnthropicLLM{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelName:   modelName,
		temperature: temperature,
		maxTokens:   int64(maxTokens),
	}, nil
}

func (a *AnthropicLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.modelName),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

var _ core.LLMProvider = (*AnthropicLLM)(nil)
