// Package ingest builds a snapshot from a source document.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/perbu/policyrag/pkg/embedder"
	"github.com/perbu/policyrag/pkg/index"
	"github.com/perbu/policyrag/pkg/loader"
	"github.com/perbu/policyrag/pkg/policyrag"
	"github.com/perbu/policyrag/pkg/snapshot"
)

// Pipeline runs parse, chunk, embed, index and publish as one batch job.
type Pipeline struct {
	Parser   loader.Parser
	Chunker  *loader.Chunker
	Embedder embedder.Embedder
	Log      logr.Logger
}

// Run ingests source and publishes the result to outDir. Any failure aborts
// the run before anything is published, leaving a previous snapshot intact.
func (p *Pipeline) Run(ctx context.Context, source, outDir string) (snapshot.Header, error) {
	log := p.Log.WithValues("source", source)
	start := time.Now()

	log.Info("parsing document")
	pages, err := p.Parser.Pages(ctx, source)
	if err != nil {
		return snapshot.Header{}, fmt.Errorf("parsing %s: %w", source, err)
	}

	segments := p.Chunker.ChunkPages(pages)
	if len(segments) == 0 {
		return snapshot.Header{}, fmt.Errorf("%s: %d pages: %w", source, len(pages), policyrag.ErrNoExtractableText)
	}
	log.Info("chunked document", "pages", len(pages), "segments", len(segments),
		"size", p.Chunker.Size(), "stride", p.Chunker.Stride())

	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	log.Info("generating embeddings", "model", p.Embedder.ModelInfo(), "count", len(texts))
	vectors, err := p.Embedder.Embed(ctx, texts)
	if err != nil {
		return snapshot.Header{}, fmt.Errorf("embedding segments: %w", embedder.AsEmbeddingError(err))
	}
	if err := embedder.Check(len(texts), vectors, 0); err != nil {
		return snapshot.Header{}, fmt.Errorf("embedding segments: %w", err)
	}

	ix, err := index.Build(vectors)
	if err != nil {
		return snapshot.Header{}, fmt.Errorf("building index: %w", err)
	}
	snap, err := snapshot.New(ix, segments, p.Embedder.ModelInfo(), source)
	if err != nil {
		return snapshot.Header{}, err
	}
	if err := ctx.Err(); err != nil {
		return snapshot.Header{}, fmt.Errorf("ingest cancelled before publish: %w", err)
	}
	if err := snapshot.Write(outDir, snap); err != nil {
		return snapshot.Header{}, fmt.Errorf("publishing snapshot: %w", err)
	}

	log.Info("snapshot published", "dir", outDir, "id", snap.Header.SnapshotID,
		"count", snap.Header.Count, "pages", snap.Store.Pages(), "dimension", snap.Header.Dimension,
		"metric", snap.Index.Metric().String(), "duration", time.Since(start))
	return snap.Header, nil
}
