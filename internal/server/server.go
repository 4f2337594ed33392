// Package server exposes the headshot workflow over HTTP: a JSON API driving
// one state machine per session, plus an MCP endpoint for tool-calling
// clients.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"

	"github.com/fpang/pro-headshot/internal/archive"
	"github.com/fpang/pro-headshot/internal/imageprep"
	"github.com/fpang/pro-headshot/internal/session"
	"github.com/fpang/pro-headshot/internal/styles"
)

// Options wires the server's collaborators.
type Options struct {
	// Store backs the session routes. It is ignored when Stateless is set.
	Store        *session.Store
	Catalog      *styles.Catalog
	Preprocessor *imageprep.Preprocessor
	// Generator backs the MCP tools and one-shot endpoints, which run
	// outside any session.
	Generator session.Generator
	// Archiver, when set, receives a copy of every download.
	Archiver   archive.Archiver
	Model      string
	CORSOrigin string
	EnableMCP  bool
	// Stateless drops the session routes, leaving the one-shot endpoints,
	// for hosts where consecutive requests can reach different processes.
	Stateless bool
	// Now overrides time.Now for download names.
	Now func() time.Time
}

// Server holds the HTTP handlers.
type Server struct {
	store    *session.Store
	catalog  *styles.Catalog
	prep     *imageprep.Preprocessor
	gen      session.Generator
	archiver archive.Archiver
	model    string
	cors     string
	mcp      bool
	now      func() time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	store := opts.Store
	if opts.Stateless {
		store = nil
	}
	return &Server{
		store:    store,
		catalog:  opts.Catalog,
		prep:     opts.Preprocessor,
		gen:      opts.Generator,
		archiver: opts.Archiver,
		model:    opts.Model,
		cors:     opts.CORSOrigin,
		mcp:      opts.EnableMCP,
		now:      now,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		withLogging,
		middleware.Recoverer,
		withCORS(s.cors),
		withSecurityHeaders,
	)

	r.Route("/api", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

		r.Get("/health", s.handleHealth)
		r.Get("/styles", s.handleStyles)

		r.Post("/generate", s.handleOneShotGenerate)
		r.Post("/edit", s.handleOneShotEdit)

		if s.store == nil {
			return
		}
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/upload", s.handleUpload)
			r.Post("/back", s.handleBack)
			r.Post("/reset", s.handleReset)
			r.Post("/dismiss-error", s.handleDismissError)
			r.Post("/style", s.handleSelectStyle)
			r.Post("/edit", s.handleEdit)
			r.Get("/download", s.handleDownload)
			r.Get("/bundle", s.handleBundle)
		})
	})

	if s.mcp {
		mcpHandler := s.mcpHandler()
		r.Handle("/mcp", mcpHandler)
		r.Handle("/mcp/*", mcpHandler)
	}

	return r
}
