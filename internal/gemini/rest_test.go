package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fpang/pro-headshot/internal/auth"
	"github.com/fpang/pro-headshot/internal/media"
)

func staticKey(key string) func() (string, error) {
	return func() (string, error) { return key, nil }
}

func newTestTransport(t *testing.T, handler http.HandlerFunc) *RESTTransport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTTransport(staticKey("test-key"), WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestRESTTransportRequestShape(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any

	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)
	})

	img := media.New(media.MIMEJPEG, []byte{0xff, 0xd8, 0xff})
	_, err := tr.GenerateContent(context.Background(), Request{Model: DefaultModel, Image: img, Prompt: "make it pro"})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}

	if gotPath != "/models/gemini-2.5-flash-image:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("x-goog-api-key = %q, want test-key", gotKey)
	}

	want := map[string]any{
		"contents": []any{map[string]any{
			"role": "user",
			"parts": []any{
				map[string]any{"inlineData": map[string]any{
					"mimeType": "image/jpeg",
					"data":     base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff}),
				}},
				map[string]any{"text": "make it pro"},
			},
		}},
		"generationConfig": map[string]any{"responseModalities": []any{"TEXT", "IMAGE"}},
	}
	if diff := cmp.Diff(want, gotBody); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}
}

func TestRESTTransportParsesParts(t *testing.T) {
	png := []byte("png-bytes")
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[{"content":{"parts":[
			{"text":"Here you go"},
			{"inlineData":{"mimeType":"image/png","data":"`+base64.StdEncoding.EncodeToString(png)+`"}}
		]}}]}`)
	})

	resp, err := tr.GenerateContent(context.Background(), Request{Model: DefaultModel, Image: media.New("", []byte{1})})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	want := &Response{Candidates: []Candidate{{Parts: []Part{
		TextPart{Text: "Here you go"},
		ImagePart{MIMEType: "image/png", Data: png},
	}}}}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestRESTTransportAPIError(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := tr.GenerateContent(context.Background(), Request{Model: DefaultModel})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Status != "INVALID_ARGUMENT" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if err.Error() != "API key not valid. Please pass a valid API key." {
		t.Errorf("Error() = %q", err.Error())
	}
	if kind := auth.Classify(err).Kind; kind != auth.KindInvalidKey {
		t.Errorf("classified kind = %v, want invalid_key", kind)
	}
}

func TestRESTTransportNonJSONError(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	})

	_, err := tr.GenerateContent(context.Background(), Request{Model: DefaultModel})
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("expected status 503 error, got %v", err)
	}
}

func TestRESTTransportMalformedReplies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"candidate without content", `{"candidates":[{"finishReason":"SAFETY"}]}`},
		{"content without parts", `{"candidates":[{"content":{"role":"model"}}]}`},
		{"bad base64", `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"%%%"}}]}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			})
			_, err := tr.GenerateContent(context.Background(), Request{Model: DefaultModel})
			if !IsParseError(err) {
				t.Errorf("expected *ParseError, got %v", err)
			}
		})
	}
}

func TestRESTTransportReadsFirstCandidateOnly(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[
			{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"iVBORw=="}}]}},
			{"finishReason":"SAFETY"}
		]}`)
	})

	resp, err := tr.GenerateContent(context.Background(), Request{Model: DefaultModel})
	res := Normalize(resp, err)
	success, ok := res.(Success)
	if !ok {
		t.Fatalf("Normalize() = %#v, want Success", res)
	}
	if diff := cmp.Diff([]byte{0x89, 'P', 'N', 'G'}, success.Image.Data); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
}

func TestRESTTransportEmptyInlineDataKeepsText(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"inlineData":{"data":""},"text":"refused"}]}}]}`)
	})

	resp, err := tr.GenerateContent(context.Background(), Request{Model: DefaultModel})
	want := Failure{Reason: ReasonTextPrefix + "refused", Cause: CauseTextInsteadOfImage}
	if res := Normalize(resp, err); res != want {
		t.Errorf("Normalize() = %#v, want %#v", res, want)
	}
}

func TestRESTTransportEmptyPartsList(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[{"content":{"parts":[]}}]}`)
	})

	resp, err := tr.GenerateContent(context.Background(), Request{Model: DefaultModel})
	want := Failure{Reason: ReasonNoImageData, Cause: CauseNoImageData}
	if res := Normalize(resp, err); res != want {
		t.Errorf("Normalize() = %#v, want %#v", res, want)
	}
}

func TestRESTTransportMissingKey(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	tr := NewRESTTransport(auth.GetAPIKey, WithBaseURL(srv.URL))
	t.Setenv(auth.EnvGeminiAPIKey, "")
	t.Setenv(auth.EnvAPIKey, "")

	_, err := tr.GenerateContent(context.Background(), Request{Model: DefaultModel})
	if !errors.Is(err, auth.ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
	if called {
		t.Error("no request should be sent without a key")
	}
}
