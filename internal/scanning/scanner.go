package scanning

import "context"

// Image is a bill photo or scan as supplied by the uploader
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Scanner sends one image and one prompt to a multimodal model and returns
// the model's text answer. Implementations do not interpret the text.
type Scanner interface {
	// Scan runs a single-turn request. ctx bounds the whole call.
	Scan(ctx context.Context, img Image, prompt string) (string, error)
	// Close closes the scanner and releases resources
	Close() error
}
