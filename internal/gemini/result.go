package gemini

import (
	"github.com/fpang/pro-headshot/internal/auth"
	"github.com/fpang/pro-headshot/internal/media"
)

// Result is the outcome of one generation call: either Success or Failure,
// never both and never partially populated.
type Result interface {
	isResult()
}

// Success holds the generated image.
type Success struct {
	Image media.EncodedImage
}

// Failure holds a human-readable reason the call produced no image.
type Failure struct {
	Reason string
	Cause  Cause
	// ErrorKind is set only when Cause is CauseTransport.
	ErrorKind auth.ErrorKind
}

func (Success) isResult() {}
func (Failure) isResult() {}

// Cause identifies which normalization rule produced a Failure.
type Cause int

const (
	CauseNoCandidates Cause = iota + 1
	CauseTextInsteadOfImage
	CauseNoImageData
	CauseParseFailure
	CauseTransport
)

func (c Cause) String() string {
	switch c {
	case CauseNoCandidates:
		return "no_candidates"
	case CauseTextInsteadOfImage:
		return "text_instead_of_image"
	case CauseNoImageData:
		return "no_image_data"
	case CauseParseFailure:
		return "parse_failure"
	case CauseTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Failure reasons shown to the user.
const (
	ReasonNoCandidates     = "No candidates returned from API"
	ReasonTextPrefix       = "Model returned text instead of image: "
	ReasonNoImageData      = "No valid image data found in response"
	ReasonParseFailure     = "Failed to parse API response"
	ReasonUnknownTransport = "Unknown error occurred"
)

// DefaultResponseMIME is assumed when the model omits the image MIME type.
const DefaultResponseMIME = media.MIMEPNG
