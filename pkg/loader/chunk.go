package loader

import (
	"fmt"
	"slices"
	"strings"

	"github.com/perbu/policyrag/pkg/policyrag"
)

// Default chunking parameters: 1000-character windows every 800 characters,
// giving a 200-character overlap between neighbours.
const (
	DefaultChunkSize   = 1000
	DefaultChunkStride = 800
)

// Chunker splits page text into fixed-size overlapping windows.
type Chunker struct {
	size   int
	stride int
}

// NewChunker validates the window parameters. The stride must be positive and
// strictly smaller than the size so that consecutive windows overlap.
func NewChunker(size, stride int) (*Chunker, error) {
	if size <= 0 || stride <= 0 {
		return nil, fmt.Errorf("chunker size=%d stride=%d must be positive: %w", size, stride, policyrag.ErrConfiguration)
	}
	if stride >= size {
		return nil, fmt.Errorf("chunker stride=%d must be smaller than size=%d: %w", stride, size, policyrag.ErrConfiguration)
	}
	return &Chunker{size: size, stride: stride}, nil
}

// Size returns the window length in characters.
func (c *Chunker) Size() int { return c.size }

// Stride returns the distance between window starts in characters.
func (c *Chunker) Stride() int { return c.stride }

// Chunk splits the text of one page. Windows start at 0, stride, 2*stride, ...
// while the start is inside the text; the last window may be shorter than
// size. Offsets count characters (runes), not bytes. Blank pages yield nothing.
// Segment IDs are left zero for the caller to assign.
func (c *Chunker) Chunk(text string, page int) []policyrag.Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)

	var segments []policyrag.Segment
	for off := 0; off < len(runes); off += c.stride {
		end := min(off+c.size, len(runes))
		segments = append(segments, policyrag.Segment{
			Text: string(runes[off:end]),
			Page: page,
		})
	}
	return segments
}

// ChunkPages chunks every page in page order and assigns dense IDs in output
// order, which is the ordinal used by the index and the metadata store.
func (c *Chunker) ChunkPages(pages []Page) []policyrag.Segment {
	ordered := slices.Clone(pages)
	slices.SortStableFunc(ordered, func(a, b Page) int { return a.Number - b.Number })

	var all []policyrag.Segment
	for _, p := range ordered {
		for _, seg := range c.Chunk(p.Text, p.Number) {
			seg.ID = len(all)
			all = append(all, seg)
		}
	}
	return all
}
