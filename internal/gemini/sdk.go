package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"
)

// SDKTransport calls the model through the google.golang.org/genai client.
// The client is created lazily on first use so a missing key only fails
// the call that needs it.
type SDKTransport struct {
	apiKey  func() (string, error)
	timeout time.Duration

	mu     sync.Mutex
	client *genai.Client
}

// NewSDKTransport creates a transport backed by the genai SDK.
// A non-positive timeout falls back to DefaultTimeout.
func NewSDKTransport(apiKey func() (string, error), timeout time.Duration) *SDKTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SDKTransport{apiKey: apiKey, timeout: timeout}
}

func (t *SDKTransport) getClient(ctx context.Context) (*genai.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	key, err := t.apiKey()
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	t.client = client
	return client, nil
}

// GenerateContent implements Transport.
func (t *SDKTransport) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	client, err := t.getClient(ctx)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: req.Image.MIMEType, Data: req.Image.Data}},
		genai.NewPartFromText(req.Prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	return convertSDKResponse(resp)
}

func convertSDKResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return &Response{}, nil
	}
	first := resp.Candidates[0]
	if first == nil || first.Content == nil || first.Content.Parts == nil {
		return nil, &ParseError{Err: errors.New("first candidate has no content parts")}
	}

	var cand Candidate
	for _, p := range first.Content.Parts {
		if p == nil {
			continue
		}
		if p.InlineData != nil {
			cand.Parts = append(cand.Parts, ImagePart{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
		}
		if p.Text != "" {
			cand.Parts = append(cand.Parts, TextPart{Text: p.Text})
		}
	}
	return &Response{Candidates: []Candidate{cand}}, nil
}
