package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"

	"github.com/perbu/policyrag/pkg/embedder"
	"github.com/perbu/policyrag/pkg/loader"
	"github.com/perbu/policyrag/pkg/policyrag"
	"github.com/perbu/policyrag/pkg/retriever"
	"github.com/perbu/policyrag/pkg/snapshot"
)

const (
	pageOne = "Basement flooding is excluded from coverage under this policy."
	pageTwo = "The premium is payable annually by bank transfer to the insurer."
)

func writeSource(t *testing.T, pages ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.txt")
	if err := os.WriteFile(path, []byte(strings.Join(pages, "\f")), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newPipeline(t *testing.T, emb embedder.Embedder) *Pipeline {
	t.Helper()
	ch, err := loader.NewChunker(loader.DefaultChunkSize, loader.DefaultChunkStride)
	if err != nil {
		t.Fatal(err)
	}
	return &Pipeline{
		Parser:   loader.TextParser{},
		Chunker:  ch,
		Embedder: emb,
		Log:      logr.Discard(),
	}
}

func TestRunEndToEnd(t *testing.T) {
	source := writeSource(t, pageOne, pageTwo)
	out := filepath.Join(t.TempDir(), "vectorstore")
	emb := embedder.NewHashEmbedder(384)

	hdr, err := newPipeline(t, emb).Run(context.Background(), source, out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if hdr.Count != 2 || hdr.Dimension != 384 || hdr.ModelInfo != emb.ModelInfo() {
		t.Errorf("header = %+v", hdr)
	}

	snap, err := snapshot.Load(out)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.Store.Size() != snap.Index.Size() {
		t.Fatalf("store size %d != index size %d", snap.Store.Size(), snap.Index.Size())
	}
	for id, want := range []int{1, 2} {
		seg, err := snap.Store.Lookup(id)
		if err != nil {
			t.Fatal(err)
		}
		if seg.Page != want {
			t.Errorf("segment %d page = %d, want %d", id, seg.Page, want)
		}
	}

	r := retriever.New(emb, retriever.Fixed(snap), logr.Discard(), retriever.WithK(1))
	ev, err := r.Retrieve(context.Background(), "is basement damage covered")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(ev.Hits) != 1 || ev.Hits[0].Segment.Page != 1 {
		t.Fatalf("top hit = %+v, want page 1", ev.Hits)
	}
	if diff := cmp.Diff([]int{1}, ev.Citations); diff != "" {
		t.Errorf("citations mismatch (-want +got):\n%s", diff)
	}

	// With the default k both segments come back, closest first.
	ev, err = retriever.New(emb, retriever.Fixed(snap), logr.Discard()).Retrieve(context.Background(), "is basement damage covered")
	if err != nil {
		t.Fatal(err)
	}
	if len(ev.Hits) != 2 || ev.Hits[0].Segment.Page != 1 {
		t.Errorf("hits = %+v, want both segments with page 1 first", ev.Hits)
	}
}

func TestRunNoExtractableText(t *testing.T) {
	out := filepath.Join(t.TempDir(), "vectorstore")
	p := newPipeline(t, embedder.NewHashEmbedder(32))
	prev, err := p.Run(context.Background(), writeSource(t, pageOne), out)
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Run(context.Background(), writeSource(t, "  ", "\n\n", ""), out)
	if !errors.Is(err, policyrag.ErrNoExtractableText) {
		t.Fatalf("Run() error = %v, want ErrNoExtractableText", err)
	}
	snap, err := snapshot.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Header.SnapshotID != prev.SnapshotID {
		t.Error("failed run replaced the previous snapshot")
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([]policyrag.Vector, error) {
	return nil, errors.New("upstream 500: embedding failed after retries")
}

func (failingEmbedder) Dimension() int    { return 16 }
func (failingEmbedder) ModelInfo() string { return "failing" }

type shortEmbedder struct{ *embedder.HashEmbedder }

func (s shortEmbedder) Embed(ctx context.Context, texts []string) ([]policyrag.Vector, error) {
	vecs, err := s.HashEmbedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	return vecs[:len(vecs)-1], nil
}

func TestRunEmbeddingFailures(t *testing.T) {
	tests := []struct {
		name    string
		emb     embedder.Embedder
		wantErr error
	}{
		{"service error", failingEmbedder{}, policyrag.ErrEmbedding},
		{"count mismatch", shortEmbedder{embedder.NewHashEmbedder(16)}, policyrag.ErrEmbedding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "vectorstore")
			_, err := newPipeline(t, tt.emb).Run(context.Background(), writeSource(t, pageOne, pageTwo), out)
			if err == nil {
				t.Fatal("Run() succeeded, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if _, statErr := os.Stat(out); !errors.Is(statErr, os.ErrNotExist) {
				t.Errorf("snapshot dir exists after failed run: %v", statErr)
			}
		})
	}
}

func TestRunMissingSource(t *testing.T) {
	_, err := newPipeline(t, embedder.NewHashEmbedder(16)).Run(context.Background(),
		filepath.Join(t.TempDir(), "nope.txt"), filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Run() error = %v, want not-exist", err)
	}
}
