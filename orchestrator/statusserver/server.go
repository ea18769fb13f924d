// ABOUTME: Read-only HTTP server exposing a session's status.json and final answer over chi routes.
// ABOUTME: Serves exactly what StatusSnapshotter writes to disk; it holds no state of its own.
package statusserver

import (
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// Server serves a session log directory's monitoring artifacts to HTTP
// clients that would rather poll an endpoint than tail a file.
type Server struct {
	logDir string
}

// New builds a server over the given session log directory (where
// status.json, final_answer.md, and final_answer.html are written).
func New(logDir string) *Server {
	return &Server{logDir: logDir}
}

// Handler returns the chi router serving the monitoring routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status.json", s.serveFile("status.json", "application/json"))
	r.Get("/final_answer.md", s.serveFile("final_answer.md", "text/markdown; charset=utf-8"))
	r.Get("/final_answer.html", s.serveFile("final_answer.html", "text/html; charset=utf-8"))
	return r
}

// ListenAndServe blocks serving the handler on addr.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("component=orchestrator.statusserver action=listen addr=%s log_dir=%s", addr, s.logDir)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// serveFile returns a handler streaming one file from the log directory.
// A missing file is a 404: the session simply has not produced it yet.
func (s *Server) serveFile(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := os.ReadFile(filepath.Join(s.logDir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				http.Error(w, "not available yet", http.StatusNotFound)
				return
			}
			log.Printf("component=orchestrator.statusserver action=read_failed file=%s err=%v", name, err)
			http.Error(w, "read failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
