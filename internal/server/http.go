package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/mic-capture-service/internal/capture"
	"github.com/skypro1111/mic-capture-service/internal/config"
	"github.com/skypro1111/mic-capture-service/internal/metrics"
	"github.com/skypro1111/mic-capture-service/internal/stream"
	"github.com/skypro1111/mic-capture-service/internal/transcription"
)

// CaptureStatus reports on the capture controller
type CaptureStatus interface {
	Statistics() capture.Statistics
	IsRunning() bool
}

// RunnerStatus reports on the segment runner
type RunnerStatus interface {
	GetStats() stream.RunnerStats
}

// TranscriptionStatus reports on the transcription client
type TranscriptionStatus interface {
	GetStats() transcription.ClientStats
}

// Dependencies are the components the API reports on. Transcription may be nil.
type Dependencies struct {
	Capture       CaptureStatus
	Runner        RunnerStatus
	Transcription TranscriptionStatus
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server *http.Server
	logger *slog.Logger
	config *config.Config
	deps   Dependencies

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config, deps Dependencies) *HTTPServer {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		deps:      deps,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, fmt.Sprintf("%d", cfg.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint. It answers 503 while no
// capture session is running.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	captureStats := h.deps.Capture.Statistics()
	runnerStats := h.deps.Runner.GetStats()

	status, code := "healthy", http.StatusOK
	if !h.deps.Capture.IsRunning() {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	components := map[string]any{
		"capture": map[string]any{
			"state":              captureStats.State,
			"session_id":         captureStats.SessionID,
			"peer":               captureStats.Peer,
			"datagrams_received": captureStats.DatagramsReceived,
			"buffered_samples":   captureStats.Buffer.Size,
		},
		"runner": map[string]any{
			"segments_processed": runnerStats.SegmentsProcessed,
			"last_segment":       runnerStats.LastSegment,
		},
	}

	if h.deps.Transcription != nil {
		transcriptionStats := h.deps.Transcription.GetStats()
		components["transcription"] = map[string]any{
			"total_requests": transcriptionStats.TotalRequests,
			"success_rate":   transcriptionStats.SuccessRate,
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "mic-capture-service",
			"version": "1.0.0",
		},
		"components": components,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Credentials are omitted
	sanitizedConfig := map[string]any{
		"device":  h.config.Device,
		"capture": h.config.Capture,
		"output": map[string]any{
			"backend":   h.config.Output.Backend,
			"directory": h.config.Output.Directory,
			"resume":    h.config.Output.Resume,
			"s3": map[string]any{
				"bucket":         h.config.Output.S3.Bucket,
				"prefix":         h.config.Output.S3.Prefix,
				"region":         h.config.Output.S3.Region,
				"endpoint":       h.config.Output.S3.Endpoint,
				"use_path_style": h.config.Output.S3.UsePathStyle,
			},
		},
		"transcription": map[string]any{
			"enabled":           h.config.Transcription.Enabled,
			"endpoint":          h.config.Transcription.Endpoint,
			"language":          h.config.Transcription.Language,
			"timeout":           h.config.Transcription.Timeout,
			"max_retries":       h.config.Transcription.MaxRetries,
			"silence_threshold": h.config.Transcription.SilenceThreshold,
			"sample_rate":       h.config.Transcription.SampleRate,
		},
		"logging": h.config.Logging,
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"capture":   h.deps.Capture.Statistics(),
		"runner":    h.deps.Runner.GetStats(),
	}

	if h.deps.Transcription != nil {
		stats["transcription"] = h.deps.Transcription.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Microphone Capture Service",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /config":  "Get service configuration",
			"GET /stats":   "Get capture, runner and transcription statistics",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
