package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/markdave123-py/citedoc/internal/core"
)

// EmbeddingCache stores vectors by cache key.
type EmbeddingCache interface {
	GetMany(ctx context.Context, keys []string) (map[string][]float32, error)
	SetMany(ctx context.Context, vectors map[string][]float32) error
}

// RedisCache keeps msgpack encoded vectors in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (r *RedisCache) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var vec []float32
		if err := msgpack.Unmarshal([]byte(s), &vec); err != nil {
			continue
		}
		out[keys[i]] = vec
	}
	return out, nil
}

func (r *RedisCache) SetMany(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for k, vec := range vectors {
		b, err := msgpack.Marshal(vec)
		if err != nil {
			return err
		}
		pipe.Set(ctx, k, b, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisCache) Close() error { return r.client.Close() }

// CachedEmbedder serves repeated texts from cache. Cache failures fall back to the provider.
type CachedEmbedder struct {
	inner core.EmbeddingProvider
	cache EmbeddingCache
	log   zerolog.Logger
}

func NewCachedEmbedder(inner core.EmbeddingProvider, cache EmbeddingCache, log zerolog.Logger) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, log: log}
}

func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "citedoc:emb:" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = cacheKey(c.inner.ModelName(), t)
	}

	cached, err := c.cache.GetMany(ctx, keys)
	if err != nil {
		c.log.Warn().Err(err).Msg("embedding cache read failed")
		cached = nil
	}

	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, k := range keys {
		if v, ok := cached[k]; ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(missTexts))
	}
	fresh := make(map[string][]float32, len(vecs))
	for j, i := range missIdx {
		out[i] = vecs[j]
		fresh[keys[i]] = vecs[j]
	}
	if err := c.cache.SetMany(ctx, fresh); err != nil {
		c.log.Warn().Err(err).Msg("embedding cache write failed")
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*CachedEmbedder)(nil)
