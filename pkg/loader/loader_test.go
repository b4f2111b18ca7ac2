package loader

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/perbu/policyrag/pkg/policyrag"
)

func TestNewChunker(t *testing.T) {
	tests := []struct {
		size, stride int
		wantErr      bool
	}{
		{1000, 800, false},
		{10, 9, false},
		{1000, 1000, true},
		{800, 1000, true},
		{1000, 0, true},
		{0, 0, true},
		{-5, -10, true},
	}
	for _, tt := range tests {
		_, err := NewChunker(tt.size, tt.stride)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewChunker(%d, %d) error = %v, wantErr %v", tt.size, tt.stride, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, policyrag.ErrConfiguration) {
			t.Errorf("NewChunker(%d, %d) error = %v, want ErrConfiguration", tt.size, tt.stride, err)
		}
	}
}

func TestChunkCoverageAndOverlap(t *testing.T) {
	c, err := NewChunker(DefaultChunkSize, DefaultChunkStride)
	if err != nil {
		t.Fatal(err)
	}
	for _, length := range []int{1, 799, 800, 801, 999, 1000, 1001, 1600, 1700, 2500, 4321} {
		text := strings.Repeat("abcdefghij", length/10+1)[:length]
		chunks := c.Chunk(text, 3)
		if len(chunks) == 0 {
			t.Fatalf("L=%d: no chunks", length)
		}

		covered := 0
		for i, ch := range chunks {
			start := i * DefaultChunkStride
			if start > covered {
				t.Errorf("L=%d: gap before chunk %d", length, i)
			}
			if ch.Text != text[start:start+len(ch.Text)] {
				t.Errorf("L=%d: chunk %d does not match source at offset %d", length, i, start)
			}
			if ch.Page != 3 {
				t.Errorf("L=%d: chunk %d page = %d, want 3", length, i, ch.Page)
			}
			if i < len(chunks)-1 && len(ch.Text) != DefaultChunkSize && start+len(ch.Text) != length {
				t.Errorf("L=%d: non-final chunk %d has length %d", length, i, len(ch.Text))
			}
			if i+1 < len(chunks)-1 {
				next := (i + 1) * DefaultChunkStride
				if overlap := start + len(ch.Text) - next; overlap != 200 {
					t.Errorf("L=%d: chunks %d,%d overlap by %d, want 200", length, i, i+1, overlap)
				}
			}
			covered = max(covered, start+len(ch.Text))
		}
		if covered != length {
			t.Errorf("L=%d: chunks cover [0,%d)", length, covered)
		}
	}
}

func TestChunkKeepsShortTail(t *testing.T) {
	c, _ := NewChunker(1000, 800)
	text := strings.Repeat("x", 1700)
	chunks := c.Chunk(text, 1)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[2].Text) != 100 {
		t.Errorf("Expected tail of 100 characters, got %d", len(chunks[2].Text))
	}
}

func TestChunkBlankPage(t *testing.T) {
	c, _ := NewChunker(1000, 800)
	for _, text := range []string{"", "   ", "\n\t\n"} {
		if got := c.Chunk(text, 1); len(got) != 0 {
			t.Errorf("Chunk(%q) = %d segments, want 0", text, len(got))
		}
	}
}

func TestChunkCountsRunes(t *testing.T) {
	c, _ := NewChunker(4, 2)
	chunks := c.Chunk("äöüßéè", 1)
	want := []string{"äöüß", "üßéè", "éè"}
	if len(chunks) != len(want) {
		t.Fatalf("Expected %d chunks, got %d", len(want), len(chunks))
	}
	for i := range want {
		if chunks[i].Text != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Text, want[i])
		}
	}
}

func TestChunkPagesAssignsDenseIDs(t *testing.T) {
	c, _ := NewChunker(10, 8)
	pages := []Page{
		{Number: 2, Text: strings.Repeat("b", 12)},
		{Number: 1, Text: strings.Repeat("a", 5)},
		{Number: 3, Text: "  "},
		{Number: 4, Text: "d"},
	}
	segs := c.ChunkPages(pages)

	wantPages := []int{1, 2, 2, 4}
	if len(segs) != len(wantPages) {
		t.Fatalf("Expected %d segments, got %d", len(wantPages), len(segs))
	}
	for i, s := range segs {
		if s.ID != i {
			t.Errorf("segment %d has ID %d", i, s.ID)
		}
		if s.Page != wantPages[i] {
			t.Errorf("segment %d page = %d, want %d", i, s.Page, wantPages[i])
		}
		if strings.Trim(s.Text, string(rune('a'+s.Page-1))) != "" {
			t.Errorf("segment %d text %q did not come from page %d", i, s.Text, s.Page)
		}
	}
}

func TestSplitPages(t *testing.T) {
	pages := SplitPages("one\ftwo\f\fthree\f")
	if len(pages) != 4 {
		t.Fatalf("Expected 4 pages, got %d", len(pages))
	}
	if pages[0].Text != "one" || pages[0].Number != 1 {
		t.Errorf("unexpected first page: %+v", pages[0])
	}
	if pages[2].Text != "" || pages[2].Number != 3 {
		t.Errorf("unexpected empty page: %+v", pages[2])
	}
	if pages[3].Text != "three" || pages[3].Number != 4 {
		t.Errorf("unexpected last page: %+v", pages[3])
	}
}

func TestTextParser(t *testing.T) {
	pages, err := TextParser{}.Pages(context.Background(), "testdata/policy.txt")
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("Expected 3 pages, got %d", len(pages))
	}
	if !strings.Contains(pages[2].Text, "Basement flooding is excluded") {
		t.Errorf("page 3 missing expected text: %q", pages[2].Text)
	}
	if strings.TrimSpace(pages[1].Text) != "" {
		t.Errorf("page 2 should be blank, got %q", pages[1].Text)
	}
}

func TestTextParserMissingFile(t *testing.T) {
	if _, err := (TextParser{}).Pages(context.Background(), "testdata/nope.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParserFor(t *testing.T) {
	if _, ok := ParserFor("policy.PDF", logr.Discard()).(*PDFParser); !ok {
		t.Error("expected PDF parser for .PDF")
	}
	if _, ok := ParserFor("policy.txt", logr.Discard()).(TextParser); !ok {
		t.Error("expected text parser for .txt")
	}
}

func TestPDFParser(t *testing.T) {
	p := &PDFParser{Log: logr.Discard()}
	pages, err := p.Pages(context.Background(), "testdata/policy.pdf")
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("Expected 3 pages, got %d", len(pages))
	}
	for i, pg := range pages {
		if pg.Number != i+1 {
			t.Errorf("page %d numbered %d", i, pg.Number)
		}
	}
	if !strings.Contains(pages[0].Text, "Basement flooding is excluded") {
		t.Errorf("page 1 missing expected text: %q", pages[0].Text)
	}
	if strings.TrimSpace(pages[1].Text) != "" {
		t.Errorf("page 2 should be blank, got %q", pages[1].Text)
	}
	if !strings.Contains(pages[2].Text, "premium is payable annually") {
		t.Errorf("page 3 missing expected text: %q", pages[2].Text)
	}

	c, err := NewChunker(DefaultChunkSize, DefaultChunkStride)
	if err != nil {
		t.Fatal(err)
	}
	segs := c.ChunkPages(pages)
	if len(segs) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(segs))
	}
	if segs[0].Page != 1 || segs[1].Page != 3 || segs[1].ID != 1 {
		t.Errorf("blank page not skipped: %+v", segs)
	}
}

func TestPDFParserRejectsNonPDF(t *testing.T) {
	p := &PDFParser{Log: logr.Discard()}
	if _, err := p.Pages(context.Background(), "testdata/policy.txt"); err == nil {
		t.Error("expected error for a text file")
	}
}
