// Package devserver is a small development HTTP server: it serves an
// application's build tree over plain HTTP so changes are visible in a
// browser while "watch" keeps rebuilding it.
package devserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server serves a build root as static files.
type Server struct {
	mux  chi.Router
	http *http.Server
}

// New builds a Server rooted at buildRoot. Requests are logged through
// chi's request logger.
func New(buildRoot string) *Server {
	mux := chi.NewRouter()
	mux.Use(middleware.Logger)
	mux.Handle("/*", http.FileServer(http.Dir(buildRoot)))
	return &Server{mux: mux}
}

// ListenAndServe blocks serving on addr until the server is shut down or
// an unrecoverable error occurs.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
