// Package media holds the image payload type passed between the preprocessor,
// the generation adapter and the session state machine.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Common MIME types.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// DefaultMIMEType is assumed when a payload carries no data-URL envelope.
const DefaultMIMEType = MIMEJPEG

// ErrEmptyImage is returned when a payload carries no bytes.
var ErrEmptyImage = errors.New("image payload is empty")

// EncodedImage is a MIME-typed image payload. Its self-describing form is a
// data URL: "data:<mime-type>;base64,<payload>".
type EncodedImage struct {
	MIMEType string
	Data     []byte
}

// New returns an EncodedImage, defaulting the MIME type when empty.
func New(mimeType string, data []byte) EncodedImage {
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return EncodedImage{MIMEType: mimeType, Data: data}
}

// IsZero reports whether the image carries no payload.
func (e EncodedImage) IsZero() bool {
	return len(e.Data) == 0
}

// Base64 returns the payload without the data-URL envelope.
func (e EncodedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(e.Data)
}

// String returns the data-URL form.
func (e EncodedImage) String() string {
	return "data:" + e.MIMEType + ";base64," + e.Base64()
}

// Clone returns a deep copy so callers cannot mutate shared bytes.
func (e EncodedImage) Clone() EncodedImage {
	if e.Data == nil {
		return EncodedImage{MIMEType: e.MIMEType}
	}
	data := make([]byte, len(e.Data))
	copy(data, e.Data)
	return EncodedImage{MIMEType: e.MIMEType, Data: data}
}

// ParseDataURL strips a "data:<mime>;base64," envelope and decodes the payload.
// A bare base64 string is accepted and typed as DefaultMIMEType.
func ParseDataURL(s string) (EncodedImage, error) {
	s = strings.TrimSpace(s)
	mimeType := DefaultMIMEType
	payload := s

	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return EncodedImage{}, fmt.Errorf("malformed data URL: missing payload separator")
		}
		mt, enc, _ := strings.Cut(header, ";")
		if enc != "base64" {
			return EncodedImage{}, fmt.Errorf("malformed data URL: unsupported encoding %q", enc)
		}
		if mt != "" {
			mimeType = strings.ToLower(mt)
		}
		payload = body
	}

	if payload == "" {
		return EncodedImage{}, ErrEmptyImage
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return EncodedImage{}, fmt.Errorf("failed to decode image payload: %w", err)
	}
	return EncodedImage{MIMEType: mimeType, Data: data}, nil
}
