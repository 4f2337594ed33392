package auth

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ErrorKind categorizes a failed call to the generation service.
type ErrorKind int

const (
	// KindUnknown indicates an error that fits no other category.
	KindUnknown ErrorKind = iota
	// KindInvalidKey indicates a missing, malformed, or revoked API key.
	KindInvalidKey
	// KindQuota indicates the API quota has been exceeded.
	KindQuota
	// KindNetwork indicates a connectivity problem or a server-side outage.
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidKey:
		return "invalid_key"
	case KindQuota:
		return "quota"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps a service error with its category.
type ClassifiedError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// httpStatusError is implemented by transport errors that carry an HTTP
// status code.
type httpStatusError interface {
	HTTPStatus() int
}

// Classify analyzes an error and returns a ClassifiedError with the
// appropriate kind. It returns nil for a nil error.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNoAPIKey) {
		return &ClassifiedError{Kind: KindInvalidKey, Message: "No API key configured", Err: err}
	}

	// The SDK returns APIError by value.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyStatus(apiErrPtr.Code, apiErrPtr.Message, err)
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.HTTPStatus(), "", err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &ClassifiedError{Kind: KindNetwork, Message: "Network error - check your internet connection", Err: err}
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		return &ClassifiedError{Kind: KindInvalidKey, Message: "API key is invalid or has been revoked", Err: err}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return &ClassifiedError{Kind: KindQuota, Message: "API quota exceeded or rate limited", Err: err}

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return &ClassifiedError{Kind: KindNetwork, Message: "Network error - check your internet connection", Err: err}

	default:
		return &ClassifiedError{Kind: KindUnknown, Message: "Request to the generation service failed", Err: err}
	}
}

func classifyStatus(code int, message string, err error) *ClassifiedError {
	switch {
	case code == 400 && mentionsAPIKey(message+" "+err.Error()):
		return &ClassifiedError{Kind: KindInvalidKey, Message: "Bad request - API key may be malformed", Err: err}
	case code == 400:
		return &ClassifiedError{Kind: KindUnknown, Message: "The request was rejected as invalid", Err: err}
	case code == 401 || code == 403:
		return &ClassifiedError{Kind: KindInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case code == 429:
		return &ClassifiedError{Kind: KindQuota, Message: "API rate limit exceeded - try again later", Err: err}
	case code >= 500 && code <= 599:
		return &ClassifiedError{Kind: KindNetwork, Message: "Gemini API server error - try again later", Err: err}
	default:
		log.Debug().Int("code", code).Str("message", message).Msg("Unclassified API status")
		if message == "" {
			message = "Request to the generation service failed"
		}
		return &ClassifiedError{Kind: KindUnknown, Message: message, Err: err}
	}
}

// mentionsAPIKey reports whether a 400 reply blames the key rather than the
// request body.
func mentionsAPIKey(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "api key") || strings.Contains(s, "api_key")
}
