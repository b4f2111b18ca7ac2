package cmd

import (
	"fmt"

	"github.com/perbu/policyrag/pkg/answer"
	"github.com/perbu/policyrag/pkg/config"
	"github.com/perbu/policyrag/pkg/embedder"
	"github.com/perbu/policyrag/pkg/retriever"
	"github.com/perbu/policyrag/pkg/snapshot"
)

func newEmbedder(c *config.Config) (embedder.Embedder, error) {
	switch c.Embedder.Type {
	case config.EmbedderHash:
		return embedder.NewHashEmbedder(c.Embedder.Hash.Dimension), nil
	case config.EmbedderOpenAI:
		oc := c.Embedder.OpenAI
		key := config.APIKey(oc.APIKeyEnv)
		if key == "" && oc.BaseURL == "" {
			return nil, fmt.Errorf("%s environment variable not set (use .env or the environment)", oc.APIKeyEnv)
		}
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			BaseURL:     oc.BaseURL,
			APIKey:      key,
			Model:       oc.Model,
			Dimension:   oc.Dimension,
			BatchSize:   oc.BatchSize,
			Concurrency: oc.Concurrency,
			Timeout:     config.Timeout(oc.TimeoutSecs),
			MaxRetries:  *oc.MaxRetries,
			Log:         log.WithName("embedder"),
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", c.Embedder.Type)
	}
}

func newCompleter(cc config.CompletionConfig, name string) (*answer.OpenAICompleter, error) {
	key := config.APIKey(cc.APIKeyEnv)
	if key == "" && cc.BaseURL == "" {
		return nil, fmt.Errorf("%s environment variable not set (use .env or the environment)", cc.APIKeyEnv)
	}
	return answer.NewOpenAICompleter(answer.CompleterConfig{
		BaseURL:     cc.BaseURL,
		APIKey:      key,
		Model:       cc.Model,
		MaxTokens:   cc.MaxTokens,
		Temperature: cc.Temperature,
		Timeout:     config.Timeout(cc.TimeoutSecs),
		Log:         log.WithName(name),
	})
}

// newSuggester returns nil when suggestions are disabled or cannot be set
// up; callers then fall back to the default questions.
func newSuggester(c *config.Config) answer.Suggester {
	if !c.Suggestions.Enabled {
		return nil
	}
	comp, err := newCompleter(c.Suggestions.CompletionConfig, "suggestions")
	if err != nil {
		log.Info("suggestion service unavailable, using default questions", "reason", err.Error())
		return nil
	}
	return answer.NewCompletionSuggester(comp)
}

func newRetriever(emb embedder.Embedder, src retriever.Source) *retriever.Retriever {
	return retriever.New(emb, src, log.WithName("retriever"),
		retriever.WithK(cfg.Retrieval.K),
		retriever.WithMaxDistance(cfg.Retrieval.MaxDistance))
}

// loadSnapshot loads the configured snapshot and checks it was built with
// the configured embedder.
func loadSnapshot(emb embedder.Embedder) (*snapshot.Snapshot, error) {
	snap, err := snapshot.Load(cfg.Snapshot.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w (run 'policyrag ingest' first)", err)
	}
	if snap.Header.ModelInfo != emb.ModelInfo() {
		log.Info("snapshot was built with a different embedder", "snapshot", snap.Header.ModelInfo, "configured", emb.ModelInfo())
	}
	log.V(1).Info("snapshot loaded", "dir", cfg.Snapshot.Dir, "id", snap.Header.SnapshotID,
		"count", snap.Header.Count, "pages", len(snap.Store.Pages()), "dimension", snap.Header.Dimension,
		"metric", snap.Index.Metric().String(), "created", snap.Header.CreatedAt)
	return snap, nil
}
