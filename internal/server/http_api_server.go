// Package server exposes the generation pipeline over a local HTTP API:
// triggering runs, fetching the latest statistical report, previewing the
// sample sequence, and downloading plain-text or CSV exports.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"qrng-lab/internal/clock"
	"qrng-lab/internal/export"
	"qrng-lab/internal/metrics"
	"qrng-lab/internal/run"
	"qrng-lab/internal/sampling"
)

const (
	defaultHTTPAddress       = "127.0.0.1:8090"
	defaultPreviewLimit      = 50
	maxPreviewLimit          = 500
	defaultShutdownTimeout   = 5 * time.Second
	defaultIdleTimeout       = 30 * time.Second
	defaultReadWriteTimeout  = 30 * time.Second
	defaultRateLimitRPS      = 10
	defaultRateLimitBurst    = 10
	defaultRetryAfterSeconds = 1
	baseUrlV1                = "/api/v1"
)

// Options configures an HTTPServer beyond its mandatory collaborators.
type Options struct {
	DefaultBitWidth   int
	DefaultSamples    int
	AllowPublic       bool
	RateLimitRPS      int
	RateLimitBurst    int
	RetryAfterSeconds int
}

// HTTPServer serves the lab API over a loopback-bound HTTP interface.
// Generation requests are rate limited with a token bucket since each run
// invokes the simulation backend.
type HTTPServer struct {
	runner            *run.Runner
	store             *run.Store
	server            *http.Server
	listener          net.Listener
	shutdownTimeout   time.Duration
	defaultBitWidth   int
	defaultSamples    int
	retryAfterSeconds int
	clock             clock.Clock
	rateLimiter       *tokenBucket
	ready             atomic.Bool
}

// NewHTTPServer constructs an HTTPServer bound to addr, which defaults to
// 127.0.0.1:8090. Unless opts.AllowPublic is true, the address is restricted
// to loopback interfaces. The server exposes, under /api/v1:
//   - POST /generate?bits=N&samples=S -- run the pipeline, return the report
//   - GET  /report -- latest run report as JSON
//   - GET  /preview?limit=N -- first N values of the latest sequence
//   - GET  /export/csv, /export/txt -- sequence downloads
//   - GET  /health -- plain-text subsystem counters
//   - GET  /ready -- 200 once the backend self-check has passed
func NewHTTPServer(addr string, runner *run.Runner, store *run.Store, opts Options) (*HTTPServer, error) {
	if addr == "" {
		addr = defaultHTTPAddress
	}
	if runner == nil {
		return nil, errors.New("api: runner is nil")
	}
	if store == nil {
		return nil, errors.New("api: store is nil")
	}

	if opts.DefaultBitWidth <= 0 {
		opts.DefaultBitWidth = 4
	}
	if opts.DefaultSamples <= 0 {
		opts.DefaultSamples = 1000
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = defaultRateLimitRPS
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if opts.RetryAfterSeconds <= 0 {
		opts.RetryAfterSeconds = defaultRetryAfterSeconds
	}

	canonicalAddr, err := enforceLoopbackAddr(addr, opts.AllowPublic)
	if err != nil {
		return nil, err
	}

	clk := clock.RealClock{}

	httpServer := &HTTPServer{
		runner:            runner,
		store:             store,
		shutdownTimeout:   defaultShutdownTimeout,
		defaultBitWidth:   opts.DefaultBitWidth,
		defaultSamples:    opts.DefaultSamples,
		retryAfterSeconds: opts.RetryAfterSeconds,
		clock:             clk,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(baseUrlV1+"/generate", httpServer.handleGenerate)
	mux.HandleFunc(baseUrlV1+"/report", httpServer.handleReport)
	mux.HandleFunc(baseUrlV1+"/preview", httpServer.handlePreview)
	mux.HandleFunc(baseUrlV1+"/export/csv", httpServer.handleExportCSV)
	mux.HandleFunc(baseUrlV1+"/export/txt", httpServer.handleExportText)
	mux.HandleFunc(baseUrlV1+"/health", httpServer.handleHealth)
	mux.HandleFunc(baseUrlV1+"/ready", httpServer.handleReady)

	httpServer.server = &http.Server{
		Addr:         canonicalAddr,
		Handler:      mux,
		ReadTimeout:  defaultReadWriteTimeout,
		WriteTimeout: defaultReadWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	httpServer.rateLimiter = newTokenBucket(float64(opts.RateLimitRPS), float64(opts.RateLimitBurst), clk)
	log.Printf("api: rate limiter configured (rps=%d, burst=%d)", opts.RateLimitRPS, opts.RateLimitBurst)

	return httpServer, nil
}

// SetReady marks the backend self-check result consumed by /ready.
func (s *HTTPServer) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start begins listening for HTTP requests. It returns an error if the
// socket cannot be bound.
func (s *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}

	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("api: serve error: %v", err)
		}
	}()

	log.Printf("api: listening on %s", listener.Addr())
	return nil
}

// Shutdown gracefully stops the HTTP server, waiting up to shutdownTimeout
// for in-flight requests to complete.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
	}

	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *HTTPServer) handleGenerate(response http.ResponseWriter, request *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordAPIRequest(status, time.Since(start))
	}()

	if request.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		response.Header().Set("Allow", http.MethodPost)
		http.Error(response, "generate requires POST", http.StatusMethodNotAllowed)
		return
	}

	bits, err := queryInt(request, "bits", s.defaultBitWidth)
	if err != nil {
		status = http.StatusBadRequest
		http.Error(response, "invalid bits parameter", http.StatusBadRequest)
		return
	}

	samples, err := queryInt(request, "samples", s.defaultSamples)
	if err != nil {
		status = http.StatusBadRequest
		http.Error(response, "invalid samples parameter", http.StatusBadRequest)
		return
	}

	if s.rateLimiter != nil {
		allowed, wait := s.rateLimiter.Allow()
		if !allowed {
			status = http.StatusServiceUnavailable
			metrics.RecordAPIRateLimited()
			setNoStoreHeaders(response)
			s.setRetryAfter(response, wait)
			http.Error(response, "rate limit exceeded", http.StatusServiceUnavailable)
			return
		}
	}

	record, err := s.runner.Generate(request.Context(), bits, samples)
	if err != nil {
		status = generateErrorStatus(err)
		setNoStoreHeaders(response)
		http.Error(response, err.Error(), status)
		return
	}

	setNoStoreHeaders(response)
	writeJSON(response, http.StatusOK, record)
}

func (s *HTTPServer) handleReport(response http.ResponseWriter, request *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordAPIRequest(status, time.Since(start))
	}()

	record, err := s.store.Latest()
	if err != nil {
		status = http.StatusNotFound
		setNoStoreHeaders(response)
		http.Error(response, "no completed run", http.StatusNotFound)
		return
	}

	setNoStoreHeaders(response)
	writeJSON(response, http.StatusOK, record)
}

func (s *HTTPServer) handlePreview(response http.ResponseWriter, request *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordAPIRequest(status, time.Since(start))
	}()

	limit, err := queryInt(request, "limit", defaultPreviewLimit)
	if err != nil || limit < 0 {
		status = http.StatusBadRequest
		http.Error(response, "invalid limit parameter", http.StatusBadRequest)
		return
	}
	if limit > maxPreviewLimit {
		limit = maxPreviewLimit
	}

	preview, err := s.store.Preview(limit)
	if err != nil {
		status = http.StatusNotFound
		setNoStoreHeaders(response)
		http.Error(response, "no completed run", http.StatusNotFound)
		return
	}

	setNoStoreHeaders(response)
	writeJSON(response, http.StatusOK, preview)
}

func (s *HTTPServer) handleExportCSV(response http.ResponseWriter, request *http.Request) {
	s.serveExport(response, "csv", "text/csv; charset=utf-8", export.CSV)
}

func (s *HTTPServer) handleExportText(response http.ResponseWriter, request *http.Request) {
	s.serveExport(response, "txt", "text/plain; charset=utf-8", export.Text)
}

// serveExport renders the latest sequence with the given formatter and writes
// it as an attachment download.
func (s *HTTPServer) serveExport(response http.ResponseWriter, ext, contentType string, render func(sampling.Sequence) string) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		metrics.RecordAPIRequest(status, time.Since(start))
	}()

	record, err := s.store.Latest()
	if err != nil {
		status = http.StatusNotFound
		setNoStoreHeaders(response)
		http.Error(response, "no completed run", http.StatusNotFound)
		return
	}

	body := render(record.Sequence)
	fileName := export.FileName(record.BitWidth, record.SampleCount, ext)

	setNoStoreHeaders(response)
	response.Header().Set("Content-Type", contentType)
	response.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	response.WriteHeader(http.StatusOK)

	if _, err := response.Write([]byte(body)); err != nil {
		log.Printf("api: export write failed: %v", err)
	}
}

func (s *HTTPServer) handleHealth(response http.ResponseWriter, _ *http.Request) {
	runs := s.store.Runs()
	lastSamples := 0
	lastCreated := ""
	if record, err := s.store.Latest(); err == nil {
		lastSamples = len(record.Sequence)
		lastCreated = record.CreatedAt.UTC().Format(time.RFC3339)
	}

	setNoStoreHeaders(response)
	response.Header().Set("Content-Type", "text/plain; charset=utf-8")
	response.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(response, "runs=%d\nlast_run_samples=%d\nlast_run_at=%s\n", runs, lastSamples, lastCreated)
}

func (s *HTTPServer) handleReady(response http.ResponseWriter, _ *http.Request) {
	setNoStoreHeaders(response)
	response.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if !s.ready.Load() {
		response.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(response, "ready=false\n")
		return
	}

	response.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(response, "ready=true\n")
}

// generateErrorStatus maps pipeline errors to HTTP status codes. Parameter
// violations are the client's fault; everything else is a backend failure.
func generateErrorStatus(err error) int {
	if errors.Is(err, run.ErrOutOfBounds) || errors.Is(err, sampling.ErrMalformedFrequency) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// queryInt parses an optional integer query parameter, returning fallback
// when the parameter is absent.
func queryInt(request *http.Request, name string, fallback int) (int, error) {
	value := request.URL.Query().Get(name)
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}

// writeJSON renders v as a JSON response with the given status code.
func writeJSON(response http.ResponseWriter, status int, v any) {
	response.Header().Set("Content-Type", "application/json; charset=utf-8")
	response.WriteHeader(status)
	if err := json.NewEncoder(response).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// setNoStoreHeaders sets Cache-Control and Pragma headers to prevent caching
// of generated data responses.
func setNoStoreHeaders(response http.ResponseWriter) {
	response.Header().Set("Cache-Control", "no-store")
	response.Header().Set("Pragma", "no-cache")
}

func (s *HTTPServer) setRetryAfter(response http.ResponseWriter, wait time.Duration) {
	seconds := s.retryAfterSeconds
	if wait > 0 {
		calc := int(wait.Seconds() + 0.999)
		if calc > seconds {
			seconds = calc
		}
	}
	if seconds < 1 {
		seconds = defaultRetryAfterSeconds
	}
	response.Header().Set("Retry-After", strconv.Itoa(seconds))
}

// enforceLoopbackAddr validates that addr resolves to a loopback interface.
// When allowPublic is true, non-loopback addresses are permitted with a
// warning log. Returns the canonical host:port string or an error.
func enforceLoopbackAddr(addr string, allowPublic bool) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = defaultHTTPAddress
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("api: invalid address %q: %w", addr, err)
	}

	if host == "" {
		return "", errors.New("api: host must be specified")
	}

	hostLower := strings.ToLower(host)
	if hostLower == "localhost" {
		return net.JoinHostPort("localhost", port), nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		if allowPublic {
			log.Printf("api: ALLOW_PUBLIC_HTTP=true, binding to %s", addr)
			return addr, nil
		}
		return "", fmt.Errorf("api: host %q is not loopback", host)
	}

	if !ip.IsLoopback() {
		if allowPublic {
			log.Printf("api: ALLOW_PUBLIC_HTTP=true, binding to %s", addr)
			return net.JoinHostPort(ip.String(), port), nil
		}
		return "", fmt.Errorf("api: host %q must be loopback", host)
	}

	return net.JoinHostPort(ip.String(), port), nil
}
