package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/pro-headshot/internal/gemini"
	"github.com/fpang/pro-headshot/internal/media"
)

// One-shot endpoints carry everything a generation needs in the request, so
// consecutive calls may be served by different processes.

type oneShotResponse struct {
	Image    string `json:"image"`
	MIMEType string `json:"mimeType"`
}

type oneShotError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type oneShotEditRequest struct {
	Image       string `json:"image"`
	Instruction string `json:"instruction"`
}

// handleOneShotGenerate takes a multipart "file" plus a "styleId" field.
func (s *Server) handleOneShotGenerate(w http.ResponseWriter, r *http.Request) {
	source, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	preset, ok := s.lookupStyle(w, r.FormValue("styleId"))
	if !ok {
		return
	}
	respondResult(w, s.gen.Generate(r.Context(), source, preset.PromptModifier))
}

// handleOneShotEdit takes a JSON body with a data URL and an instruction.
func (s *Server) handleOneShotEdit(w http.ResponseWriter, r *http.Request) {
	// A base64 data URL is 4/3 the size of the image it carries.
	limit := s.prep.MaxBytes()*4/3 + multipartOverhead
	var req oneShotEditRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		httpError(w, http.StatusBadRequest, "instruction must not be empty")
		return
	}
	source, err := media.ParseDataURL(req.Image)
	if err != nil {
		httpError(w, http.StatusBadRequest, "image must be a data URL or base64 string")
		return
	}
	respondResult(w, s.gen.Edit(r.Context(), source, req.Instruction))
}

// respondResult maps a generation result to 200 with the image or 502 with
// the failure reason.
func respondResult(w http.ResponseWriter, res gemini.Result) {
	switch r := res.(type) {
	case gemini.Success:
		respondJSON(w, http.StatusOK, oneShotResponse{Image: r.Image.String(), MIMEType: r.Image.MIMEType})
	case gemini.Failure:
		log.Warn().Str("cause", r.Cause.String()).Msg("One-shot generation failed")
		body := oneShotError{Error: r.Reason}
		if r.Cause == gemini.CauseTransport {
			body.Kind = r.ErrorKind.String()
		}
		respondJSON(w, http.StatusBadGateway, body)
	default:
		httpError(w, http.StatusInternalServerError, "unexpected generation result")
	}
}
