// Package server exposes the watch endpoint and the middleware around
// it. It is deliberately thin: validation, admission, and response
// shaping; the detection work happens in the monitor package.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server owns the router and the listener settings.
type Server struct {
	Router *chi.Mux
	Port   int
	TLS    TLSFiles
	logger *slog.Logger
	http   *http.Server
}

// TLSFiles points at the PEM cert/key pair; both empty means plain HTTP.
type TLSFiles struct {
	Cert string
	Key  string
}

// New builds the router with the standard middleware chain.
func New(port int, tls TLSFiles, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "paywatch")
	})

	return &Server{
		Router: r,
		Port:   port,
		TLS:    tls,
		logger: logger,
	}
}

// Start serves until Shutdown; HTTPS when a cert/key pair is configured.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}

	var err error
	if s.TLS.Cert != "" && s.TLS.Key != "" {
		s.logger.Info("starting server (https)", slog.Int("port", s.Port))
		err = s.http.ListenAndServeTLS(s.TLS.Cert, s.TLS.Key)
	} else {
		s.logger.Info("starting server (http)", slog.Int("port", s.Port))
		err = s.http.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
