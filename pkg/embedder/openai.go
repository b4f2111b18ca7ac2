package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/perbu/policyrag/pkg/policyrag"
)

// knownDimensions maps embedding models to their output size.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"all-MiniLM-L6-v2":       384,
}

// OpenAIConfig configures an embedder talking to an OpenAI-compatible
// embeddings endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Dimension   int // 0 looks the model up, or learns it from the first response
	BatchSize   int
	Concurrency int
	Timeout     time.Duration // per request
	MaxRetries  int // 0 disables retries
	Log         logr.Logger
}

// OpenAIEmbedder uses an OpenAI-compatible API for embeddings. It is safe for
// concurrent use; the underlying HTTP client pools connections.
type OpenAIEmbedder struct {
	client      *openai.Client
	model       string
	dim         atomic.Int64
	batchSize   int
	concurrency int
	timeout     time.Duration
	maxRetries  int
	log         logr.Logger
}

// NewOpenAIEmbedder creates an OpenAI embedder
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai embedder: API key required for the default endpoint")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	e := &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		log:         cfg.Log,
	}
	dim := cfg.Dimension
	if dim == 0 {
		dim = knownDimensions[cfg.Model]
	}
	e.dim.Store(int64(dim))
	return e, nil
}

// Embed generates embeddings for texts. Texts are sent in batches, several
// batches at a time; the first failing batch cancels the rest.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([]policyrag.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([]policyrag.Vector, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.embedBatchWithRetry(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch [%d,%d): %w", start, end, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := Check(len(texts), out, e.Dimension()); err != nil {
		return nil, err
	}
	e.dim.CompareAndSwap(0, int64(len(out[0])))
	return out, nil
}

func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, batch []string) ([]policyrag.Vector, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.log.V(1).Info("retrying embedding batch", "attempt", attempt, "size", len(batch), "error", lastErr.Error())
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%v: %w", ctx.Err(), policyrag.ErrEmbedding)
			case <-time.After(retryDelay(attempt - 1)):
			}
		}
		vecs, err := e.embedBatch(ctx, batch)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, fmt.Errorf("%v: %w", lastErr, policyrag.ErrEmbedding)
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([]policyrag.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: batch,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(batch))
	}

	vecs := make([]policyrag.Vector, len(batch))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(batch) || vecs[idx] != nil {
			idx = i
		}
		v := make(policyrag.Vector, len(d.Embedding))
		for j := range d.Embedding {
			v[j] = float32(d.Embedding[j])
		}
		// L2 normalize so squared distance ranks like cosine similarity
		l2normalize(v)
		vecs[idx] = v
	}
	return vecs, nil
}

// Dimension returns the embedding dimension, or 0 while it is still unknown.
func (e *OpenAIEmbedder) Dimension() int {
	return int(e.dim.Load())
}

// ModelInfo returns model information
func (e *OpenAIEmbedder) ModelInfo() string {
	return "openai-" + e.model
}

// retryable reports whether a failed request may succeed when repeated.
// Client errors are final, except for rate limiting and request timeouts.
func retryable(err error) bool {
	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	if code < 400 || code >= 500 {
		return true
	}
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func retryDelay(attempt int) time.Duration {
	attempt = min(max(attempt, 0), 5)
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
