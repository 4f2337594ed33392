package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/pro-headshot/internal/archive"
	"github.com/fpang/pro-headshot/internal/imageprep"
	"github.com/fpang/pro-headshot/internal/media"
	"github.com/fpang/pro-headshot/internal/session"
	"github.com/fpang/pro-headshot/internal/styles"
)

// multipartOverhead is allowed on top of the image limit for form framing.
const multipartOverhead = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"model":  s.model,
	}
	if s.store != nil {
		body["sessions"] = s.store.Len()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"version": s.catalog.Version,
		"styles":  s.catalog.All(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	m := s.store.Create()
	respondJSON(w, http.StatusCreated, newSessionView(m.Snapshot()))
}

// machine resolves the {id} path parameter, writing a 404 when unknown.
func (s *Server) machine(w http.ResponseWriter, r *http.Request) (*session.Machine, bool) {
	m, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return m, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(m.Snapshot()))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.store.Delete(chi.URLParam(r, "id")) {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	img, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	snap, err := m.AcceptImage(img)
	s.respondSnapshot(w, snap, err)
}

// readUpload preprocesses the multipart "file" field, writing the error
// response itself when the upload is rejected.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (media.EncodedImage, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.prep.MaxBytes()+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httpError(w, http.StatusRequestEntityTooLarge, s.prep.TooLargeError().Message)
			return media.EncodedImage{}, false
		}
		httpError(w, http.StatusBadRequest, "multipart field \"file\" is required", err.Error())
		return media.EncodedImage{}, false
	}
	defer file.Close()

	img, err := s.prep.Preprocess(r.Context(), imageprep.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		var ve *imageprep.ValidationError
		if errors.As(err, &ve) {
			status := http.StatusBadRequest
			if ve.Kind == imageprep.ErrKindTooLarge {
				status = http.StatusRequestEntityTooLarge
			}
			httpError(w, status, ve.Message)
			return media.EncodedImage{}, false
		}
		httpError(w, http.StatusInternalServerError, "failed to process image", err.Error())
		return media.EncodedImage{}, false
	}
	return img, true
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	snap, err := m.Back()
	s.respondSnapshot(w, snap, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	s.respondSnapshot(w, m.Reset(), nil)
}

func (s *Server) handleDismissError(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	s.respondSnapshot(w, m.DismissError(), nil)
}

type selectStyleRequest struct {
	StyleID string `json:"styleId"`
}

func (s *Server) handleSelectStyle(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	var req selectStyleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	preset, ok := s.lookupStyle(w, req.StyleID)
	if !ok {
		return
	}

	snap, err := m.SelectStyle(r.Context(), preset)
	s.respondSnapshot(w, snap, err)
}

func (s *Server) lookupStyle(w http.ResponseWriter, id string) (styles.Preset, bool) {
	preset, err := s.catalog.Lookup(id)
	if errors.Is(err, styles.ErrNotFound) {
		httpError(w, http.StatusBadRequest, "unknown style: "+strconv.Quote(id))
		return styles.Preset{}, false
	} else if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to resolve style", err.Error())
		return styles.Preset{}, false
	}
	return preset, true
}

type editRequest struct {
	Instruction string `json:"instruction"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	var req editRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := m.Edit(r.Context(), req.Instruction)
	s.respondSnapshot(w, snap, err)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	name, img, err := m.Download(s.now())
	if err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}

	if s.archiver != nil {
		if loc, err := s.archiver.Save(r.Context(), name, img); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Failed to archive download")
		} else {
			w.Header().Set("X-Archive-Location", loc)
			if p, ok := s.archiver.(archive.Presigner); ok {
				if url, err := p.PresignURL(r.Context(), name, archive.DefaultURLExpiry); err != nil {
					log.Warn().Err(err).Str("file", name).Msg("Failed to presign archived download")
				} else {
					w.Header().Set("X-Archive-URL", url)
				}
			}
		}
	}

	w.Header().Set("Content-Type", img.MIMEType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		log.Warn().Err(err).Msg("Failed to write download")
	}
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	snap := m.Snapshot()
	if snap.Original == nil && len(snap.History) == 0 {
		httpError(w, http.StatusConflict, "nothing to bundle yet")
		return
	}

	var buf bytes.Buffer
	n, err := archive.WriteBundle(&buf, snap.Original, snap.History, s.now())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to build bundle", err.Error())
		return
	}

	log.Debug().Str("session", snap.ID).Int("entries", n).Int("bytes", buf.Len()).Msg("Bundle built")
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+archive.BundleName(s.now())+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Warn().Err(err).Msg("Failed to write bundle")
	}
}

// respondSnapshot writes the snapshot, mapping machine errors to statuses.
// Generation failures are not errors here: they arrive as a 200 with the
// snapshot's error field set.
func (s *Server) respondSnapshot(w http.ResponseWriter, snap session.Snapshot, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, newSessionView(snap))
	case errors.Is(err, session.ErrEmptyInstruction), errors.Is(err, session.ErrEmptyImage):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSuperseded), session.IsTransitionError(err):
		httpError(w, http.StatusConflict, err.Error())
	default:
		httpError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}
