package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var _ Extractor = (*PDFExtractor)(nil)
var _ PageExtractor = (*PDFExtractor)(nil)

// PDFExtractor extracts text from PDF documents, page by page.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

// Extract extracts plain text from a PDF document.
func (e *PDFExtractor) Extract(content []byte) (string, error) {
	pages, err := e.ExtractPages(content)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n"), nil
}

// ExtractPages extracts text per page, keeping the page number. Unreadable
// and empty pages are skipped.
func (e *PDFExtractor) ExtractPages(content []byte) ([]PageMeta, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("ingest: empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("ingest: open pdf: %w", err)
	}

	var pages []PageMeta
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, PageMeta{PageNumber: i, Text: text})
	}
	return pages, nil
}
