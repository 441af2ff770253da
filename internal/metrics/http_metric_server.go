package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const baseUrlV1 = "/api/v1"

// Server provides an HTTP server for exposing Prometheus metrics via the
// /api/v1/metrics endpoint. It implements graceful shutdown and proper error
// handling for production use.
type Server struct {
	addr   string
	server *http.Server
}

// NewServer creates a new metrics HTTP server that will listen on the
// specified address. The address should be in the format "host:port"
// (e.g., "127.0.0.1:8000" or ":8000").
//
// The server exposes two endpoints:
//   - GET /api/v1/metrics - Prometheus metrics endpoint (uses DefaultGatherer)
//   - GET /api/v1/health - Simple health check
func NewServer(addr string) *Server {
	mux := http.NewServeMux()

	mux.Handle(baseUrlV1+"/metrics", promhttp.Handler())

	mux.HandleFunc(baseUrlV1+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Printf("metrics: health handler write error: %v", err)
		}
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start begins serving HTTP requests on the configured address. This method
// blocks until the server is shut down or encounters a fatal error.
// http.ErrServerClosed is not returned as an error; it indicates successful
// shutdown.
func (s *Server) Start() error {
	if s.server == nil {
		return errors.New("metrics server not initialized")
	}

	log.Printf("metrics: starting HTTP server on %s", s.addr)

	if err := validateAddress(s.addr); err != nil {
		return fmt.Errorf("metrics: invalid address %q: %w", s.addr, err)
	}

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: HTTP server error: %w", err)
	}

	log.Println("metrics: HTTP server stopped")
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete or the context to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// validateAddress checks that the address has a valid host:port form before
// attempting to listen on it.
func validateAddress(addr string) error {
	if addr == "" {
		return errors.New("empty address")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "" {
		return errors.New("port must be specified")
	}
	return nil
}
