package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
)

const defaultBatchSize = 64

// Client turns texts into vectors, one per text and in input order, batching
// calls to the provider.
type Client struct {
	provider  embeddings.EmbedderClient
	batchSize int
	dimension int
	limiter   *rate.Limiter
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(llmConfig config.LLMConfig) (*openai.LLM, error) {
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating embedder")
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithEmbeddingModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	return openai.New(opts...)
}

// NewClient wires the configured provider with batching and optional rate limiting.
func NewClient(cfg *config.Config) (*Client, error) {
	provider, err := NewEmbedder(cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	var limiter *rate.Limiter
	if cfg.RAG.EmbedRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RAG.EmbedRatePerSecond), 1)
	}
	return New(provider, cfg.RAG.EmbedBatchSize, cfg.RAG.EmbeddingDimension, limiter), nil
}

// New wraps an existing provider. A dimension of zero disables the dimension
// check and a nil limiter disables rate limiting.
func New(provider embeddings.EmbedderClient, batchSize, dimension int, limiter *rate.Limiter) *Client {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Client{provider: provider, batchSize: batchSize, dimension: dimension, limiter: limiter}
}

// Embed returns one vector per text. Any failed batch fails the whole call and
// no partial result is returned.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		batch, err := c.provider.CreateEmbedding(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: embed batch %d-%d: %v", models.ErrProviderFailure, start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: embed batch %d-%d returned %d vectors", models.ErrProviderFailure, start, end, len(batch))
		}
		for i, v := range batch {
			if c.dimension > 0 && len(v) != c.dimension {
				return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", models.ErrProviderFailure, start+i, len(v), c.dimension)
			}
		}
		vectors = append(vectors, batch...)
	}

	log.Debug().Int("texts", len(texts)).Int("batch_size", c.batchSize).Msg("Embedded texts")
	return vectors, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
