// Package server exposes converted sessions and the knowledge bank over
// HTTP as read-only JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/scbrown/transcripts/internal/analyze"
	"github.com/scbrown/transcripts/internal/bank"
	"github.com/scbrown/transcripts/internal/ingest"
	"github.com/scbrown/transcripts/internal/logging"
	"github.com/scbrown/transcripts/internal/model"
	"github.com/scbrown/transcripts/internal/store"
)

// Server serves the documents under an output directory written by
// ingest.All, and the knowledge bank held by a store backend.
type Server struct {
	outDir string
	bank   store.Store
	logger *logging.Logger
	mux    *http.ServeMux
	srv    *http.Server
}

// New creates a Server. backend may be nil, in which case the bank endpoints
// answer 503.
func New(outDir string, backend store.Store, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	srv := &Server{outDir: outDir, bank: backend, logger: logger, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}/pages/{n}", s.handleGetPage)
	s.mux.HandleFunc("GET /api/v1/bank", s.handleGetBank)
	s.mux.HandleFunc("GET /api/v1/bank/stats", s.handleBankStats)
	s.mux.HandleFunc("GET /api/v1/bank/search", s.handleSearchBank)
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s.srv.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s.srv.Serve(ln)
}

// Handler returns the HTTP handler for use with httptest.Server or custom listeners.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseSessionOpts(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	m, err := ingest.ReadMaster(s.outDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusOK, []ingest.Entry{})
			return
		}
		writeErr(w, http.StatusInternalServerError, "reading sessions: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, opts.filter(m.Sessions))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	idx, err := ingest.ReadIndex(ingest.SessionDir(s.outDir, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeErr(w, http.StatusNotFound, "session %s not found", id)
			return
		}
		writeErr(w, http.StatusInternalServerError, "reading session %s: %v", id, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := parsePageNumber(r.PathValue("n"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	page, err := ingest.ReadPage(ingest.SessionDir(s.outDir, id), n)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeErr(w, http.StatusNotFound, "session %s has no page %d", id, n)
			return
		}
		writeErr(w, http.StatusInternalServerError, "reading session %s page %d: %v", id, n, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// loadBank writes the error response itself and returns nil on failure.
func (s *Server) loadBank(w http.ResponseWriter, r *http.Request) *model.KnowledgeBank {
	if s.bank == nil {
		writeErr(w, http.StatusServiceUnavailable, "no knowledge bank configured")
		return nil
	}
	b, err := s.bank.Load(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			writeErr(w, http.StatusInternalServerError, "%v (run cct bank reset --force)", err)
			return nil
		}
		writeErr(w, http.StatusInternalServerError, "loading knowledge bank: %v", err)
		return nil
	}
	return b
}

func (s *Server) handleGetBank(w http.ResponseWriter, r *http.Request) {
	b := s.loadBank(w, r)
	if b == nil {
		return
	}
	category := r.URL.Query().Get("category")
	if category == "" {
		writeJSON(w, http.StatusOK, b)
		return
	}
	entries := b.Categories[category]
	if entries == nil {
		entries = []model.PatternEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleBankStats(w http.ResponseWriter, r *http.Request) {
	if s.bank == nil {
		writeErr(w, http.StatusServiceUnavailable, "no knowledge bank configured")
		return
	}
	st, err := s.bank.Stats(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "getting bank stats: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSearchBank(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeErr(w, http.StatusBadRequest, "q query parameter is required")
		return
	}
	top, err := parseInt(r, "top")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	if top <= 0 {
		top = analyze.DefaultTopN
	}
	b := s.loadBank(w, r)
	if b == nil {
		return
	}
	writeJSON(w, http.StatusOK, bank.Search(b, q, top))
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// writeErr writes a JSON error response.
func writeErr(w http.ResponseWriter, status int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, status, map[string]string{"error": msg})
}
