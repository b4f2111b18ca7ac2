package snapshot

import (
	"fmt"
	"slices"

	"github.com/perbu/policyrag/pkg/policyrag"
)

// Store maps segment ordinals to their text and page. It is co-indexed with
// the vector index: segment i describes vector i.
type Store struct {
	segments []policyrag.Segment
}

// NewStore wraps segments whose IDs must equal their positions.
func NewStore(segments []policyrag.Segment) (*Store, error) {
	for i, s := range segments {
		if s.ID != i {
			return nil, fmt.Errorf("segment at position %d has id %d: %w", i, s.ID, policyrag.ErrCorruptStore)
		}
		if s.Page < 1 {
			return nil, fmt.Errorf("segment %d has page %d: %w", i, s.Page, policyrag.ErrCorruptStore)
		}
	}
	return &Store{segments: segments}, nil
}

// Lookup returns the segment with the given ordinal.
func (s *Store) Lookup(id int) (policyrag.Segment, error) {
	if id < 0 || id >= len(s.segments) {
		return policyrag.Segment{}, fmt.Errorf("lookup id %d of %d: %w", id, len(s.segments), policyrag.ErrCorruptStore)
	}
	return s.segments[id], nil
}

// Size returns the number of segments.
func (s *Store) Size() int {
	return len(s.segments)
}

// Pages returns the distinct pages covered by the store, ascending.
func (s *Store) Pages() []int {
	pages := make([]int, len(s.segments))
	for i, seg := range s.segments {
		pages[i] = seg.Page
	}
	slices.Sort(pages)
	return slices.Compact(pages)
}
