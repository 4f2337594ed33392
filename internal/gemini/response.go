// Package gemini talks to the Gemini multimodal image model and normalizes
// its responses into a closed set of results.
package gemini

import (
	"context"
	"fmt"

	"github.com/fpang/pro-headshot/internal/media"
)

// DefaultModel is the image-capable model used when none is configured.
const DefaultModel = "gemini-2.5-flash-image"

// Part is one piece of a candidate's content: an ImagePart or a TextPart.
type Part interface {
	isPart()
}

// ImagePart carries inline image bytes returned by the model.
type ImagePart struct {
	MIMEType string
	Data     []byte
}

// TextPart carries text returned by the model, typically a refusal or a
// description of what it did.
type TextPart struct {
	Text string
}

func (ImagePart) isPart() {}
func (TextPart) isPart()  {}

// Candidate is one alternative answer from the model.
type Candidate struct {
	Parts []Part
}

// Response is the transport-neutral form of a generateContent reply.
type Response struct {
	Candidates []Candidate
}

// Request is a single image-plus-instruction turn.
type Request struct {
	Model  string
	Image  media.EncodedImage
	Prompt string
}

// Transport sends a Request to the model service. Implementations return a
// *ParseError when the reply cannot be read into a Response, and any other
// error for request-level failures.
type Transport interface {
	GenerateContent(ctx context.Context, req Request) (*Response, error)
}

// ParseError reports a reply whose shape could not be interpreted.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
