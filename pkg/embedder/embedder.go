package embedder

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/perbu/policyrag/pkg/policyrag"
)

// Embedder maps texts to fixed-dimension vectors. The result has the same
// length and order as the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]policyrag.Vector, error)
	Dimension() int
	ModelInfo() string
}

// Check verifies that an embedder returned one vector of the expected
// dimension per input. A dimension of 0 accepts any non-zero dimension as
// long as all vectors agree.
func Check(inputs int, vectors []policyrag.Vector, dim int) error {
	if len(vectors) != inputs {
		return fmt.Errorf("got %d vectors for %d inputs: %w", len(vectors), inputs, policyrag.ErrEmbedding)
	}
	for i, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) == 0 || len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d: %w", i, len(v), dim, policyrag.ErrEmbedding)
		}
	}
	return nil
}

// AsEmbeddingError marks err as an embedding failure unless it already is
// one, so callers can classify failures of any Embedder implementation.
func AsEmbeddingError(err error) error {
	if err == nil || errors.Is(err, policyrag.ErrEmbedding) {
		return err
	}
	return fmt.Errorf("%v: %w", err, policyrag.ErrEmbedding)
}

// HashEmbedder is a deterministic bag-of-words embedder using feature hashing.
// It needs no model or network, so it serves offline builds and tests.
// Texts sharing words end up close to each other.
type HashEmbedder struct {
	dim       int
	tokens    *regexp.Regexp
	stopwords map[string]struct{}
}

// NewHashEmbedder creates a hash embedder with the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashEmbedder{
		dim:       dimension,
		tokens:    regexp.MustCompile(`\p{L}+|\p{N}+`),
		stopwords: defaultStopwords(),
	}
}

// Embed hashes every word of every text into a bucket and L2-normalises the
// counts. A text without words maps to the zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([]policyrag.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, policyrag.ErrEmbedding)
	}
	out := make([]policyrag.Vector, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) policyrag.Vector {
	vec := make(policyrag.Vector, e.dim)
	for _, tok := range e.tokens.FindAllString(strings.ToLower(text), -1) {
		if _, stop := e.stopwords[tok]; stop {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dim)]++
	}
	l2normalize(vec)
	return vec
}

// Dimension returns the embedding dimension
func (e *HashEmbedder) Dimension() int {
	return e.dim
}

// ModelInfo returns model information
func (e *HashEmbedder) ModelInfo() string {
	return fmt.Sprintf("hash-fnv32a-%d", e.dim)
}

// l2normalize normalizes a vector to unit length
func l2normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
