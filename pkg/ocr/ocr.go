package ocr

import "context"

// Result captures recognized text for a single page image.
type Result struct {
	// Text is the linearized text extracted from the image.
	Text string
	// AvgScore is the mean recognition confidence in [0,1]; zero means the
	// provider reported no scores.
	AvgScore float64
}

// Engine is the OCR provider contract: one page image in, one result out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, image []byte) (Result, error)
}
