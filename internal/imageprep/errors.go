package imageprep

import "fmt"

// ValidationErrorKind categorizes upload rejections.
type ValidationErrorKind int

const (
	// ErrKindInvalidType indicates the declared content type is not an image.
	ErrKindInvalidType ValidationErrorKind = iota
	// ErrKindTooLarge indicates the upload exceeds the configured limit.
	ErrKindTooLarge
	// ErrKindUndecodable indicates the bytes are not a supported image.
	ErrKindUndecodable
)

func (k ValidationErrorKind) String() string {
	switch k {
	case ErrKindInvalidType:
		return "invalid_type"
	case ErrKindTooLarge:
		return "too_large"
	case ErrKindUndecodable:
		return "undecodable"
	default:
		return "unknown"
	}
}

// ValidationError is a user-facing upload rejection. It never reaches the
// generation service.
type ValidationError struct {
	Kind    ValidationErrorKind
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalidType(contentType string) *ValidationError {
	return &ValidationError{
		Kind:    ErrKindInvalidType,
		Message: "Please upload a valid image file.",
		Err:     fmt.Errorf("invalid file type %q", contentType),
	}
}

func tooLarge(maxMiB int) *ValidationError {
	return &ValidationError{
		Kind:    ErrKindTooLarge,
		Message: fmt.Sprintf("Image size must be less than %dMB.", maxMiB),
	}
}

func tooManyPixels(width, height, maxMegapixels int) *ValidationError {
	return &ValidationError{
		Kind:    ErrKindTooLarge,
		Message: fmt.Sprintf("Image dimensions must be under %d megapixels.", maxMegapixels),
		Err:     fmt.Errorf("image is %dx%d", width, height),
	}
}

func undecodable(err error) *ValidationError {
	return &ValidationError{
		Kind:    ErrKindUndecodable,
		Message: "Could not read the image. Please upload a JPEG, PNG, GIF, WebP, BMP or TIFF file.",
		Err:     err,
	}
}
