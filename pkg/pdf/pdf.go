package pdf

import "context"

// MetaReader exposes the document metadata the pipeline needs before and
// during extraction.
type MetaReader interface {
	// PageCount returns the number of pages in the document.
	PageCount(path string) (int, error)
	// PageText returns the embedded text layer of one page (1-based).
	// An empty string means the page has no usable text layer.
	PageText(path string, page int) (string, error)
}

// Renderer rasterizes a single page to an image file and returns its path.
// The image is written under destDir and is the caller's to remove.
type Renderer interface {
	RenderPage(ctx context.Context, pdfPath string, page int, destDir string) (string, error)
}
