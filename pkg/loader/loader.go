package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/ledongthuc/pdf"
)

// Page is the extracted text of one page of a source document.
type Page struct {
	Number int    // 1-based
	Text   string // May be empty when the page has no extractable text
}

// Parser turns a source document into per-page text.
type Parser interface {
	Pages(ctx context.Context, path string) ([]Page, error)
}

// ParserFor picks a parser from the file extension: PDF for .pdf, plain text
// otherwise.
func ParserFor(path string, log logr.Logger) Parser {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return &PDFParser{Log: log}
	}
	return TextParser{}
}

// TextParser reads UTF-8 text where pages are separated by form feeds, which
// is what pdftotext produces. A file without form feeds is a single page.
type TextParser struct{}

// Pages reads the file and splits it into pages.
func (TextParser) Pages(ctx context.Context, path string) ([]Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return SplitPages(string(content)), nil
}

// SplitPages splits text on form feeds into numbered pages. A trailing form
// feed does not start an extra page.
func SplitPages(content string) []Page {
	content = strings.TrimSuffix(content, "\f")
	parts := strings.Split(content, "\f")
	pages := make([]Page, len(parts))
	for i, p := range parts {
		pages[i] = Page{Number: i + 1, Text: p}
	}
	return pages
}

// PDFParser extracts plain text from PDF files. Pages that fail to extract
// are logged and returned empty, so they are skipped by the chunker instead of
// failing the whole document.
type PDFParser struct {
	Log logr.Logger
}

// Pages opens the PDF and extracts the text of every page.
func (p *PDFParser) Pages(ctx context.Context, path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	n := r.NumPage()
	pages := make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(r, i)
		if err != nil {
			p.Log.Info("skipping unreadable page", "path", path, "page", i, "error", err.Error())
			text = ""
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

// pageText extracts one page. The pdf package panics on some malformed
// content streams; that is turned into an error for the page.
func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("extracting page %d: %v", num, rec)
		}
	}()
	page := r.Page(num)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}
