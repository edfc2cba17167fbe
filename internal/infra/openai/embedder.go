package openai

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openai/openai-go/v3"
)

const (
	// DefaultEmbeddingModel is the embedding model when none is configured.
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension is the output width of the default model.
	DefaultEmbeddingDimension = 1536
	// DefaultMaxBatchSize bounds one embedding request.
	DefaultMaxBatchSize = 96

	embedCacheSize = 4096
)

// Hybrid embedding combines three views of a chunk into one vector.
const (
	hybridContentWeight = 0.5
	hybridSummaryWeight = 0.3
	hybridContextWeight = 0.2
)

// modelDimensions pins the native output width per supported model, so a
// misconfigured dimension fails at startup instead of at query time.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

var (
	// ErrEmptyInput rejects empty or whitespace-only embedding input.
	ErrEmptyInput = errors.New("embedding input is empty")
	// ErrBatchTooLarge rejects batches over the configured maximum.
	ErrBatchTooLarge = errors.New("embedding batch exceeds maximum size")
)

// Embedder converts text to vectors with batching, caching, and the
// shared retry policy. Safe for concurrent use.
type Embedder struct {
	client    *Client
	model     string
	dimension int
	maxBatch  int
	cache     *lru.Cache[[32]byte, []float32]
}

type embedderOptions struct {
	model     string
	dimension int
	maxBatch  int
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel overrides the embedding model.
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension overrides the vector dimension.
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithMaxBatchSize overrides the per-request batch bound.
func WithMaxBatchSize(n int) EmbedderOption {
	return func(o *embedderOptions) {
		o.maxBatch = n
	}
}

// NewEmbedder creates an Embedder on top of a shared Client. The
// configured dimension must match the model's native width.
func NewEmbedder(client *Client, opts ...EmbedderOption) (*Embedder, error) {
	options := embedderOptions{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
		maxBatch:  DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if want, ok := modelDimensions[options.model]; ok && options.dimension != want {
		return nil, fmt.Errorf("model %s produces %d-dimensional vectors, configured %d",
			options.model, want, options.dimension)
	}
	if options.maxBatch <= 0 {
		return nil, fmt.Errorf("max batch size must be positive, got %d", options.maxBatch)
	}

	cache, err := lru.New[[32]byte, []float32](embedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	return &Embedder{
		client:    client,
		model:     options.model,
		dimension: options.dimension,
		maxBatch:  options.maxBatch,
		cache:     cache,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for up to MaxBatchSize texts, serving
// repeats from the cache. Empty inputs are rejected so callers can skip
// the offending chunk instead of embedding noise.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if len(texts) > e.maxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(texts), e.maxBatch)
	}

	results := make([][]float32, len(texts))
	keys := make([][32]byte, len(texts))
	var misses []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: input %d", ErrEmptyInput, i)
		}
		keys[i] = sha256.Sum256([]byte(text))
		if vec, ok := e.cache.Get(keys[i]); ok {
			results[i] = vec
			continue
		}
		misses = append(misses, i)
	}
	if len(misses) == 0 {
		return results, nil
	}

	input := make([]string, len(misses))
	for j, i := range misses {
		input[j] = texts[i]
	}

	params := openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dimension)),
	}
	if len(input) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{OfString: openai.String(input[0])}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: input}
	}

	err := e.client.withRetry(ctx, func() error {
		resp, apiErr := e.client.api.Embeddings.New(ctx, params)
		if apiErr != nil {
			return apiErr
		}
		if len(resp.Data) != len(input) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(input), len(resp.Data)))
		}
		for j, data := range resp.Data {
			vec := make([]float32, len(data.Embedding))
			for k, v := range data.Embedding {
				vec[k] = float32(v)
			}
			i := misses[j]
			results[i] = vec
			e.cache.Add(keys[i], vec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	return results, nil
}

// EmbedHybrid embeds the chunk content, its one-line summary, and the
// file-level context, and returns their weighted average (content 0.5,
// summary 0.3, context 0.2). Blank parts are skipped and the remaining
// weights renormalized; all-blank input is rejected.
func (e *Embedder) EmbedHybrid(ctx context.Context, content, summary, fileContext string) ([]float32, error) {
	parts := []struct {
		text   string
		weight float64
	}{
		{content, hybridContentWeight},
		{summary, hybridSummaryWeight},
		{fileContext, hybridContextWeight},
	}

	var (
		texts   []string
		weights []float64
	)
	for _, part := range parts {
		if strings.TrimSpace(part.text) == "" {
			continue
		}
		texts = append(texts, part.text)
		weights = append(weights, part.weight)
	}
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	embeddings, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return combineWeighted(embeddings, weights), nil
}

// combineWeighted averages the vectors with the given weights,
// normalized over their sum.
func combineWeighted(vectors [][]float32, weights []float64) []float32 {
	total := 0.0
	for _, w := range weights {
		total += w
	}

	combined := make([]float32, len(vectors[0]))
	for i, vec := range vectors {
		scale := float32(weights[i] / total)
		for j, v := range vec {
			combined[j] += v * scale
		}
	}
	return combined
}

// ModelName returns the embedding model in use.
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension returns the vector width.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// MaxBatchSize returns the per-request input bound.
func (e *Embedder) MaxBatchSize() int {
	return e.maxBatch
}
