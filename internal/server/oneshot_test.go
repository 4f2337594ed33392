package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/fpang/pro-headshot/internal/auth"
	"github.com/fpang/pro-headshot/internal/gemini"
	"github.com/fpang/pro-headshot/internal/imageprep"
	"github.com/fpang/pro-headshot/internal/media"
	"github.com/fpang/pro-headshot/internal/session"
	"github.com/fpang/pro-headshot/internal/styles"
)

func newStatelessServer(gen *fakeGenerator) http.Handler {
	return New(Options{
		Store:        session.NewStore(gen, time.Hour),
		Catalog:      styles.Default(),
		Preprocessor: imageprep.New(imageprep.Options{MaxUploadMiB: 1}),
		Generator:    gen,
		Model:        "test-model",
		Stateless:    true,
	}).Handler()
}

func TestStatelessServerHasNoSessionRoutes(t *testing.T) {
	h := newStatelessServer(&fakeGenerator{})

	if rec := do(t, h, http.MethodPost, "/api/sessions", nil); rec.Code != http.StatusNotFound {
		t.Errorf("create session: status %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/sessions/abc", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get session: status %d, want 404", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if _, ok := got["sessions"]; ok {
		t.Errorf("stateless health should not report sessions: %v", got)
	}
}

func TestOneShotGenerate(t *testing.T) {
	gen := &fakeGenerator{results: []gemini.Result{gemini.Success{Image: headshot1}}}
	h := newStatelessServer(gen)

	rec := postMultipart(t, h, "/api/generate", "image/png", testPNG(t, 16, 16), map[string]string{"styleId": "corporate"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var got oneShotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := oneShotResponse{Image: headshot1.String(), MIMEType: media.MIMEPNG}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}

	corporate, _ := styles.Default().Lookup("corporate")
	if len(gen.prompts) != 1 || gen.prompts[0] != corporate.PromptModifier {
		t.Errorf("prompts = %q", gen.prompts)
	}
}

func TestOneShotGenerateRejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		styleID     string
		wantStatus  int
	}{
		{"unknown style", "image/png", "nope", http.StatusBadRequest},
		{"not an image", "text/plain", "corporate", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{}
			h := newStatelessServer(gen)
			rec := postMultipart(t, h, "/api/generate", tt.contentType, testPNG(t, 8, 8), map[string]string{"styleId": tt.styleID})
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if len(gen.prompts) != 0 {
				t.Errorf("generator should not be called, got %q", gen.prompts)
			}
		})
	}
}

func TestOneShotEdit(t *testing.T) {
	gen := &fakeGenerator{results: []gemini.Result{gemini.Success{Image: headshot2}}}
	h := newStatelessServer(gen)

	rec := do(t, h, http.MethodPost, "/api/edit", map[string]string{
		"image":       headshot1.String(),
		"instruction": " warmer light ",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var got oneShotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Image != headshot2.String() {
		t.Errorf("image = %.40q", got.Image)
	}
	if diff := cmp.Diff([]string{" warmer light "}, gen.prompts); diff != "" {
		t.Errorf("instruction should pass through unchanged (-want +got):\n%s", diff)
	}
}

func TestOneShotEditErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantError  string
	}{
		{"blank instruction", map[string]string{"image": headshot1.String(), "instruction": "  "}, http.StatusBadRequest, "instruction must not be empty"},
		{"bad image", map[string]string{"image": "data:image/png;base64,%%%", "instruction": "crop"}, http.StatusBadRequest, "data URL"},
		{"unknown field", map[string]string{"image": headshot1.String(), "prompt": "crop"}, http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newStatelessServer(&fakeGenerator{})
			rec := do(t, h, http.MethodPost, "/api/edit", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantError) {
				t.Errorf("body %s should mention %q", rec.Body.String(), tt.wantError)
			}
		})
	}
}

func TestOneShotFailureReportsReason(t *testing.T) {
	gen := &fakeGenerator{results: []gemini.Result{
		gemini.Failure{Reason: "Resource has been exhausted", Cause: gemini.CauseTransport, ErrorKind: auth.KindQuota},
	}}
	h := newStatelessServer(gen)

	rec := do(t, h, http.MethodPost, "/api/edit", map[string]string{"image": headshot1.String(), "instruction": "crop"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var got oneShotError
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := oneShotError{Error: "Resource has been exhausted", Kind: "quota"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("error mismatch (-want +got):\n%s", diff)
	}
}
