package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/citedoc/internal/core"
	"github.com/markdave123-py/citedoc/internal/metrics"
)

// Guard rate limits calls to a remote model and stops calling it while it keeps failing.
type Guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuard allows rps calls per second (0 means unlimited). The breaker opens after
// five consecutive failures and probes again after timeout.
func NewGuard(name string, rps float64, timeout time.Duration, log zerolog.Logger) *Guard {
	g := &Guard{}
	if rps > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return g
}

// Do runs fn unless the breaker is open. An open breaker reports ServiceUnavailable.
func (g *Guard) Do(ctx context.Context, op string, fn func() error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return core.ServiceUnavailable(op, err)
	}
	return err
}

type GuardedLLM struct {
	inner   core.LLMProvider
	guard   *Guard
	metrics *metrics.Metrics
}

func NewGuardedLLM(inner core.LLMProvider, guard *Guard, m *metrics.Metrics) *GuardedLLM {
	return &GuardedLLM{inner: inner, guard: guard, metrics: m}
}

func (g *GuardedLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var out string
	start := time.Now()
	err := g.guard.Do(ctx, "generate", func() error {
		var err error
		out, err = g.inner.Generate(ctx, systemPrompt, userPrompt)
		return err
	})
	g.metrics.LLMCall(time.Since(start), err)
	return out, err
}

type GuardedEmbedder struct {
	inner   core.EmbeddingProvider
	guard   *Guard
	metrics *metrics.Metrics
}

func NewGuardedEmbedder(inner core.EmbeddingProvider, guard *Guard, m *metrics.Metrics) *GuardedEmbedder {
	return &GuardedEmbedder{inner: inner, guard: guard, metrics: m}
}

func (g *GuardedEmbedder) ModelName() string { return g.inner.ModelName() }

func (g *GuardedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := g.guard.Do(ctx, "embed", func() error {
		var err error
		out, err = g.inner.EmbedTexts(ctx, texts)
		return err
	})
	g.metrics.EmbedBatch(err)
	return out, err
}

var (
	_ core.LLMProvider       = (*GuardedLLM)(nil)
	_ core.EmbeddingProvider = (*GuardedEmbedder)(nil)
)
