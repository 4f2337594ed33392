package gemini

// rest.go calls generateContent over plain HTTPS with the JSON wire format.

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Gemini REST API base URL.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultTimeout bounds one generation call. Image generation can take 10-30s.
const DefaultTimeout = 120 * time.Second

// RESTTransport calls the Gemini REST API directly.
type RESTTransport struct {
	apiKey     func() (string, error)
	baseURL    string
	httpClient *http.Client
}

// RESTOption customizes a RESTTransport.
type RESTOption func(*RESTTransport)

// WithBaseURL points the transport at another endpoint, e.g. a test server.
func WithBaseURL(u string) RESTOption {
	return func(t *RESTTransport) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default 120s-timeout client.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(t *RESTTransport) { t.httpClient = c }
}

// NewRESTTransport creates a REST transport. apiKey is resolved on every call
// so a key loaded after startup is picked up, and a missing key surfaces as a
// request failure rather than a startup error.
func NewRESTTransport(apiKey func() (string, error), opts ...RESTOption) *RESTTransport {
	t := &RESTTransport{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// --- REST API request/response types ---

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlobData `json:"inlineData,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiBlobData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content *geminiContent `json:"content"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// APIError is a non-2xx reply (or an error envelope) from the REST API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API returned status %d", e.StatusCode)
}

// HTTPStatus returns the HTTP status code of the failed call.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

func buildRESTRequest(req Request) geminiRequest {
	return geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{
					InlineData: &geminiBlobData{
						MIMEType: req.Image.MIMEType,
						Data:     req.Image.Base64(),
					},
				},
				{Text: req.Prompt},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
}

// GenerateContent implements Transport.
func (t *RESTTransport) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	apiKey, err := t.apiKey()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(buildRESTRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", t.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", truncateString(string(respBody), 500)).
			Msg("Gemini API returned error")
		return nil, apiErrorFromBody(resp, respBody)
	}

	return parseRESTResponse(respBody)
}

func apiErrorFromBody(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
	var envelope geminiResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		apiErr.Message = envelope.Error.Message
		if envelope.Error.Status != "" {
			apiErr.Status = envelope.Error.Status
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("API returned status %d: %s", resp.StatusCode, truncateString(string(body), 200))
	}
	return apiErr
}

func parseRESTResponse(body []byte) (*Response, error) {
	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, &ParseError{Err: err}
	}
	if geminiResp.Error != nil {
		return nil, &APIError{
			StatusCode: geminiResp.Error.Code,
			Status:     geminiResp.Error.Status,
			Message:    geminiResp.Error.Message,
		}
	}

	if len(geminiResp.Candidates) == 0 {
		return &Response{}, nil
	}
	// Only the first candidate is read; alternatives are never shown.
	first := geminiResp.Candidates[0]
	if first.Content == nil || first.Content.Parts == nil {
		return nil, &ParseError{Err: errors.New("first candidate has no content parts")}
	}

	var cand Candidate
	for _, p := range first.Content.Parts {
		if p.InlineData != nil {
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, &ParseError{Err: fmt.Errorf("failed to decode image data: %w", err)}
			}
			cand.Parts = append(cand.Parts, ImagePart{MIMEType: p.InlineData.MIMEType, Data: data})
		}
		if p.Text != "" {
			cand.Parts = append(cand.Parts, TextPart{Text: p.Text})
		}
	}
	return &Response{Candidates: []Candidate{cand}}, nil
}

// IsParseError reports whether err came from an unreadable reply.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// truncateString truncates a string to maxLen, appending "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
