package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/otron-io/codesearch/internal/chunker"
	"github.com/otron-io/codesearch/pkg/models"
)

// Client computes embedding vectors for chunks and queries.
type Client interface {
	// EmbedChunks returns the input chunks with Embedding populated.
	// Oversized chunks are re-split into numbered parts first, so the
	// output may be longer than the input.
	EmbedChunks(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error)
	// EmbedQuery embeds a single query string with the same
	// dimensionality as chunk embeddings.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// ErrDimensionMismatch means the provider returned vectors of a
// different length than configured. This is a fatal configuration
// error, not a retryable one.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Provider is enumeration of supported embedding providers.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for embedding clients.
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string

	// BatchSize is how many chunks go into one provider call
	// (default 8).
	BatchSize int
	// TokenBudget caps the estimated token count of a single chunk
	// before it is re-split (default 7000).
	TokenBudget int
	// CharsPerToken is the conservative characters-per-token estimate
	// used against TokenBudget (default 4).
	CharsPerToken int
}

const (
	defaultBatchSize     = 8
	defaultTokenBudget   = 7000
	defaultCharsPerToken = 4
)

func (c *ClientConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = defaultTokenBudget
	}
	if c.CharsPerToken <= 0 {
		c.CharsPerToken = defaultCharsPerToken
	}
}

// maxChars is the character budget one chunk may occupy before
// pre-splitting.
func (c *ClientConfig) maxChars() int {
	return c.TokenBudget * c.CharsPerToken
}

// NewClient creates a new embedding client based on configuration.
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	config.applyDefaults()

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(context.Background(), config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// textEmbedder is the raw provider call: one batch of texts in, one
// vector per text out, same order.
type textEmbedder interface {
	embedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// embedChunks pre-splits oversized chunks, then embeds them in fixed
// batches. Batches are issued sequentially; a batch failure aborts the
// whole call.
func embedChunks(ctx context.Context, e textEmbedder, chunks []models.Chunk, batchSize, maxChars int) ([]models.Chunk, error) {
	prepared := make([]models.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		prepared = append(prepared, chunker.SplitByCharBudget(ch, maxChars)...)
	}

	out := make([]models.Chunk, 0, len(prepared))
	for start := 0; start < len(prepared); start += batchSize {
		end := start + batchSize
		if end > len(prepared) {
			end = len(prepared)
		}
		batch := prepared[start:end]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
		}
		vecs, err := e.embedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(batch))
		}
		for i := range batch {
			if len(vecs[i]) != e.Dim() {
				return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vecs[i]), e.Dim())
			}
			batch[i].Embedding = vecs[i]
			out = append(out, batch[i])
		}
	}
	return out, nil
}

// embedQuery embeds one text and validates its dimensionality.
func embedQuery(ctx context.Context, e textEmbedder, text string) ([]float32, error) {
	vecs, err := e.embedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("provider returned %d vectors for 1 input", len(vecs))
	}
	if len(vecs[0]) != e.Dim() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vecs[0]), e.Dim())
	}
	return vecs[0], nil
}

// StubClient is a deterministic in-process implementation for tests
// and local development. Identical texts embed to identical vectors.
type StubClient struct {
	config *ClientConfig
}

// NewStubClient creates a new StubClient with the given dimensionality.
func NewStubClient(dim int) *StubClient {
	if dim == 0 {
		dim = 256
	}
	cfg := &ClientConfig{Dim: dim, Provider: ProviderStub}
	cfg.applyDefaults()
	return &StubClient{config: cfg}
}

func (s *StubClient) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = stubVector(t, s.config.Dim)
	}
	return out, nil
}

// stubVector derives a unit-length vector from a hash of the text.
func stubVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		v[i] = float32(rng.Float64()*2 - 1)
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v
}

func (s *StubClient) EmbedChunks(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	return embedChunks(ctx, s, chunks, s.config.BatchSize, s.config.maxChars())
}

func (s *StubClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return embedQuery(ctx, s, text)
}

// Dim returns the embedding dimension.
func (s *StubClient) Dim() int {
	return s.config.Dim
}
