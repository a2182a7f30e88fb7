package pdf

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DocReader reads PDF metadata and embedded text using the pure-Go parser.
type DocReader struct{}

// NewDocReader returns a reader for PDF metadata and text layers.
func NewDocReader() *DocReader { return &DocReader{} }

// PageCount returns the page count from the document catalog.
func (d *DocReader) PageCount(path string) (int, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	pages := reader.NumPage()
	if pages <= 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}

// PageText extracts the embedded text of one page. Pages without a text
// layer (scanned documents) yield an empty string, not an error.
func (d *DocReader) PageText(path string, page int) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	if page < 1 || page > reader.NumPage() {
		return "", fmt.Errorf("page %d out of range 1..%d", page, reader.NumPage())
	}
	p := reader.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		// Problematic pages degrade to empty text instead of failing.
		return "", nil
	}
	return sanitizeText(text), nil
}

func sanitizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.TrimSpace(text)
}
