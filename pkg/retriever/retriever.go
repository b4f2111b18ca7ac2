// Package retriever turns a question into an evidence set: it embeds the
// question, searches the current snapshot and assembles context text and
// cited pages from the nearest segments.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/perbu/policyrag/pkg/embedder"
	"github.com/perbu/policyrag/pkg/policyrag"
	"github.com/perbu/policyrag/pkg/snapshot"
)

// DefaultK is the number of segments retrieved per question.
const DefaultK = 8

// ErrNoSnapshot is returned when the source has no snapshot loaded yet.
var ErrNoSnapshot = errors.New("no snapshot loaded")

// Source yields the snapshot to search. Implementations may swap the
// snapshot between calls; each retrieval uses the one it got.
type Source interface {
	Current() *snapshot.Snapshot
}

type fixed struct{ snap *snapshot.Snapshot }

func (f fixed) Current() *snapshot.Snapshot { return f.snap }

// Fixed returns a Source that always yields snap.
func Fixed(snap *snapshot.Snapshot) Source {
	return fixed{snap: snap}
}

// Retriever is safe for concurrent use.
type Retriever struct {
	embedder    embedder.Embedder
	source      Source
	log         logr.Logger
	k           int
	maxDistance float32
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithK sets the number of neighbours to fetch.
func WithK(k int) Option {
	return func(r *Retriever) { r.k = k }
}

// WithMaxDistance drops hits farther than d from the query. Zero disables
// the cut.
func WithMaxDistance(d float32) Option {
	return func(r *Retriever) { r.maxDistance = d }
}

// New returns a Retriever searching the snapshots of src with vectors from emb.
func New(emb embedder.Embedder, src Source, log logr.Logger, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: emb,
		source:   src,
		log:      log,
		k:        DefaultK,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// K returns the number of neighbours fetched per query.
func (r *Retriever) K() int { return r.k }

// Retrieve embeds query and returns the nearest segments of the current
// snapshot. Citations are the distinct pages of the hits, ascending.
func (r *Retriever) Retrieve(ctx context.Context, query string) (policyrag.EvidenceSet, error) {
	ctx, span := tracer.Start(ctx, "retriever.Retrieve",
		trace.WithAttributes(attribute.Int("policyrag.k", r.k)))
	defer span.End()

	start := time.Now()
	ev, err := r.retrieve(ctx, query)
	retrieveDuration.Observe(time.Since(start).Seconds())
	retrieveTotal.WithLabelValues(outcome(err)).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return policyrag.EvidenceSet{}, err
	}
	span.SetAttributes(
		attribute.Int("policyrag.hits", len(ev.Hits)),
		attribute.IntSlice("policyrag.citations", ev.Citations),
	)
	return ev, nil
}

func (r *Retriever) retrieve(ctx context.Context, query string) (policyrag.EvidenceSet, error) {
	if strings.TrimSpace(query) == "" {
		return policyrag.EvidenceSet{}, policyrag.ErrEmptyQuery
	}
	snap := r.source.Current()
	if snap == nil {
		return policyrag.EvidenceSet{}, ErrNoSnapshot
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return policyrag.EvidenceSet{}, fmt.Errorf("embedding query: %w", embedder.AsEmbeddingError(err))
	}
	if err := embedder.Check(1, vecs, snap.Index.Dimension()); err != nil {
		return policyrag.EvidenceSet{}, fmt.Errorf("embedding query: %w", err)
	}

	neighbors, err := snap.Index.Search(vecs[0], r.k)
	if err != nil {
		return policyrag.EvidenceSet{}, err
	}

	ev := policyrag.EvidenceSet{Hits: make([]policyrag.Hit, 0, len(neighbors))}
	blocks := make([]string, 0, len(neighbors))
	pages := make(map[int]struct{})
	for _, n := range neighbors {
		if r.maxDistance > 0 && n.Distance > r.maxDistance {
			break
		}
		seg, err := snap.Store.Lookup(n.ID)
		if err != nil {
			return policyrag.EvidenceSet{}, err
		}
		ev.Hits = append(ev.Hits, policyrag.Hit{Segment: seg, Distance: n.Distance})
		blocks = append(blocks, seg.Text)
		pages[seg.Page] = struct{}{}
	}
	ev.Context = strings.Join(blocks, "\n\n")
	ev.Citations = slices.Sorted(maps.Keys(pages))

	r.log.V(1).Info("retrieved evidence", "snapshot", snap.Header.SnapshotID,
		"k", r.k, "hits", len(ev.Hits), "pages", ev.Citations)
	return ev, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, policyrag.ErrEmptyQuery):
		return outcomeEmptyQuery
	case errors.Is(err, policyrag.ErrEmbedding):
		return outcomeEmbedding
	default:
		return outcomeError
	}
}
