package index

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/perbu/policyrag/pkg/policyrag"
)

// Metric identifies the distance function an index was built with.
type Metric uint8

// SquaredL2 is the only metric in use. It is stored in the persisted blob so a
// load can refuse an index built with something else.
const SquaredL2 Metric = 1

func (m Metric) String() string {
	if m == SquaredL2 {
		return "squared-l2"
	}
	return fmt.Sprintf("metric(%d)", uint8(m))
}

// Neighbor is a single search hit: the ordinal of the stored vector and its
// distance to the query.
type Neighbor struct {
	ID       int
	Distance float32
}

// Index is an exact (flat) nearest-neighbour index. Vectors are kept in one
// row-major slice; the ordinal of a vector is its insertion position.
// An Index is immutable after Build and safe for concurrent searches.
type Index struct {
	dim    int
	metric Metric
	data   []float32
}

// Build creates an index over vectors. The slice must be non-empty and every
// vector must have the same, non-zero dimension.
func Build(vectors []policyrag.Vector) (*Index, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("build index: %w", policyrag.ErrEmptyInput)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("build index: vector 0 has zero length: %w", policyrag.ErrDimensionMismatch)
	}

	data := make([]float32, 0, dim*len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("build index: vector %d has dimension %d, want %d: %w",
				i, len(v), dim, policyrag.ErrDimensionMismatch)
		}
		data = append(data, v...)
	}

	return &Index{dim: dim, metric: SquaredL2, data: data}, nil
}

// Size returns the number of stored vectors.
func (ix *Index) Size() int {
	return len(ix.data) / ix.dim
}

// Dimension returns the vector dimension.
func (ix *Index) Dimension() int {
	return ix.dim
}

// Metric returns the distance metric.
func (ix *Index) Metric() Metric {
	return ix.metric
}

func (ix *Index) row(id int) []float32 {
	return ix.data[id*ix.dim : (id+1)*ix.dim]
}

// SquaredDistance computes the squared Euclidean distance between a and b.
// Both must have the same length.
func SquaredDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Search returns the k stored vectors closest to query, ascending by distance.
// Equal distances are ordered by lower ordinal. If k exceeds the number of
// stored vectors, every vector is returned.
func (ix *Index) Search(query policyrag.Vector, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("search: k=%d: %w", k, policyrag.ErrInvalidK)
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("search: query has dimension %d, index has %d: %w",
			len(query), ix.dim, policyrag.ErrDimensionMismatch)
	}

	n := ix.Size()
	results := make([]Neighbor, n)
	for i := 0; i < n; i++ {
		results[i] = Neighbor{ID: i, Distance: SquaredDistance(query, ix.row(i))}
	}

	slices.SortFunc(results, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}
