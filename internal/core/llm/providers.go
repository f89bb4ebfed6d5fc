package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/citedoc/internal/config"
	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/metrics"
)

// Providers holds the guarded model clients used by the service.
type Providers struct {
	Embedder core.EmbeddingProvider
	LLM      core.LLMProvider
	closers  []io.Closer
}

func NewProviders(ctx context.Context, cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) (*Providers, error) {
	p := &Providers{}

	embedder, err := p.newEmbedder(ctx, cfg)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	if cfg.RedisURL != "" {
		cache, err := NewRedisCache(ctx, cfg.RedisURL, cfg.EmbedCacheTTL)
		if err != nil {
			log.Warn().Err(err).Msg("embedding cache disabled")
		} else {
			p.closers = append(p.closers, cache)
			embedder = NewCachedEmbedder(embedder, cache, log)
		}
	}
	p.Embedder = NewGuardedEmbedder(embedder, NewGuard("embed", cfg.EmbedRPS, cfg.LLMTimeout, log), m)

	gen, err := p.newLLM(ctx, cfg)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	p.LLM = NewGuardedLLM(gen, NewGuard("llm", 0, cfg.LLMTimeout, log), m)
	return p, nil
}

func (p *Providers) newEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	switch cfg.EmbedProvider {
	case "gemini":
		e, err := NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, e)
		return e, nil
	case "openai":
		client, err := newOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, "", cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		return NewLangChainEmbedder(client, "openai/"+cfg.EmbedModel, cfg.EmbedBatchSize)
	case "ollama":
		client, err := newOllama(cfg.OllamaURL, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		return NewLangChainEmbedder(client, "ollama/"+cfg.EmbedModel, cfg.EmbedBatchSize)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbedProvider)
	}
}

func (p *Providers) newLLM(ctx context.Context, cfg *config.Config) (core.LLMProvider, error) {
	switch cfg.LLMProvider {
	case "gemini":
		g, err := NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel, cfg.LLMTemperature, cfg.LLMMaxTokens)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, g)
		return g, nil
	case "anthropic":
		return NewAnthropicLLM(cfg.AnthropicAPIKey, cfg.GenModel, cfg.LLMTemperature, cfg.LLMMaxTokens)
	case "openai":
		client, err := newOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GenModel, "")
		if err != nil {
			return nil, err
		}
		return NewLangChainLLM(client, cfg.LLMTemperature, cfg.LLMMaxTokens), nil
	case "ollama":
		client, err := newOllama(cfg.OllamaURL, cfg.GenModel)
		if err != nil {
			return nil, err
		}
		return NewLangChainLLM(client, cfg.LLMTemperature, cfg.LLMMaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
