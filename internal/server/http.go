package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GuyNachshon/hirag/internal/audio"
	"github.com/GuyNachshon/hirag/internal/chat"
	"github.com/GuyNachshon/hirag/internal/config"
	"github.com/GuyNachshon/hirag/internal/metrics"
	"github.com/GuyNachshon/hirag/internal/ocr"
	"github.com/GuyNachshon/hirag/internal/rag"
	"github.com/GuyNachshon/hirag/internal/transcription"
)

const (
	serviceName    = "RAG API"
	serviceVersion = "1.0.0"
)

// HealthChecker is a dependency that can report its own reachability
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the services handed to the HTTP layer. Any of the optional
// services may be nil; their endpoints then answer 503.
type Deps struct {
	Config      *config.Config
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Store       *chat.Store
	Generator   *rag.Generator
	Searcher    *rag.Searcher
	Retriever   HealthChecker
	LLM         HealthChecker
	Audio       *audio.Processor
	Transcriber *transcription.Client
	OCR         *ocr.Parser
}

// HTTPServer serves the gateway API
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	config  *config.Config
	metrics *metrics.Metrics
	deps    Deps

	startTime time.Time
}

// NewHTTPServer creates the API server and registers every route
func NewHTTPServer(deps Deps) *HTTPServer {
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Store == nil {
		deps.Store = chat.NewStore()
	}

	h := &HTTPServer{
		logger:    deps.Logger,
		config:    deps.Config,
		metrics:   deps.Metrics,
		deps:      deps,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = withCORS(mux)

	cfg := deps.Config.HTTP
	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.handler,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	return h
}

// Handler returns the root handler including middleware
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, h.withMetrics(pattern, fn))
	}

	// System
	route("GET /{$}", h.handleRoot)
	route("GET /health", h.handleHealth)
	route("GET /config", h.handleConfig)
	route("GET /stats", h.handleStats)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))

	// Chat
	route("POST /api/chat/sessions", h.handleCreateSession)
	route("GET /api/chat/sessions/{id}", h.handleGetSession)
	route("DELETE /api/chat/sessions/{id}", h.handleDeleteSession)
	route("GET /api/chat/sessions/{id}/history", h.handleHistory)
	route("POST /api/chat/{id}/message", h.handleMessage)
	route("POST /api/chat/{id}/upload", h.handleChatUpload)
	route("GET /api/chat/health", h.handleChatHealth)

	// File search
	route("GET /api/search/files", h.handleSearchFiles)
	route("GET /api/search/health", h.handleSearchHealth)

	// Transcription
	route("POST /api/transcribe", h.handleTranscribe)
	route("POST /api/transcribe/batch", h.handleTranscribeBatch)
	route("GET /api/transcribe/health", h.handleTranscribeHealth)

	// Audio
	route("POST /api/audio/upload", h.handleAudioUpload)
	route("POST /api/audio/transcribe", h.handleAudioTranscribe)
	route("GET /api/audio/formats", h.handleAudioFormats)
	route("GET /api/audio/health", h.handleAudioHealth)
	route("POST /api/audio/test/convert", h.handleAudioTestConvert)
	route("GET /api/audio/test/whisper", h.handleAudioTestWhisper)

	// OCR
	route("POST /api/ocr/parse", h.handleOCRParse)
	route("GET /api/ocr/health", h.handleOCRHealth)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// tempDir is where uploads are staged
func (h *HTTPServer) tempDir() string {
	if h.deps.Audio != nil {
		return h.deps.Audio.TempDir()
	}
	return os.TempDir()
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"message": serviceName + " is running",
		"version": serviceVersion,
		"endpoints": map[string]string{
			"GET /health":                         "Service health check",
			"POST /api/chat/sessions":             "Create a chat session",
			"GET /api/chat/sessions/{id}":         "Get a chat session",
			"DELETE /api/chat/sessions/{id}":      "Delete a chat session",
			"GET /api/chat/sessions/{id}/history": "Get chat history",
			"POST /api/chat/{id}/message":         "Send a chat message",
			"POST /api/chat/{id}/upload":          "Upload a file to a chat session",
			"GET /api/search/files":               "Search indexed files",
			"POST /api/transcribe":                "Transcribe an audio file",
			"POST /api/transcribe/batch":          "Transcribe several audio files",
			"POST /api/audio/upload":              "Convert an audio file",
			"POST /api/audio/transcribe":          "Convert and transcribe an audio file",
			"GET /api/audio/formats":              "Supported audio formats",
			"POST /api/ocr/parse":                 "Parse a document image or PDF",
			"GET /config":                         "Service configuration",
			"GET /stats":                          "Service statistics",
			"GET /metrics":                        "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

// handleHealth reports readiness of the retrieval-backed chat path
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Generator == nil || !h.deps.Generator.HasRetriever() {
		writeError(w, unavailable("RAG system not initialized"))
		return
	}

	components := map[string]interface{}{
		"chat_sessions": h.deps.Store.Count(),
	}
	components["retriever"] = checkHealth(r.Context(), h.deps.Retriever)
	components["llm"] = checkHealth(r.Context(), h.deps.LLM)
	components["transcription"] = h.deps.Transcriber != nil
	components["audio_processor"] = h.deps.Audio != nil
	components["ocr"] = h.deps.OCR != nil

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"message":    serviceName + " is running",
		"version":    serviceVersion,
		"uptime":     time.Since(h.startTime).String(),
		"components": components,
	})
}

// checkHealth renders a dependency probe as "healthy", "unhealthy: ..." or "not_configured"
func checkHealth(ctx context.Context, hc HealthChecker) string {
	if hc == nil {
		return "not_configured"
	}
	if err := hc.Health(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config

	// API keys are omitted
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"http": map[string]interface{}{
			"port":               c.HTTP.Port,
			"address":            c.HTTP.Address,
			"read_timeout":       c.HTTP.ReadTimeout,
			"write_timeout":      c.HTTP.WriteTimeout,
			"max_upload_size_mb": c.HTTP.MaxUploadSizeMB,
		},
		"hirag": map[string]interface{}{
			"base_url":                 c.HiRAG.BaseURL,
			"working_dir":              c.HiRAG.WorkingDir,
			"timeout":                  c.HiRAG.Timeout,
			"enable_hierarchical_mode": c.HiRAG.EnableHierarchicalMode,
			"enable_naive_rag":         c.HiRAG.EnableNaiveRAG,
			"enable_llm_cache":         c.HiRAG.EnableLLMCache,
		},
		"llm": map[string]interface{}{
			"base_url":    c.LLM.BaseURL,
			"model":       c.LLM.Model,
			"timeout":     c.LLM.Timeout,
			"temperature": c.LLM.Temperature,
			"max_tokens":  c.LLM.MaxTokens,
		},
		"whisper": map[string]interface{}{
			"base_url":       c.Whisper.BaseURL,
			"timeout":        c.Whisper.Timeout,
			"max_retries":    c.Whisper.MaxRetries,
			"max_concurrent": c.Whisper.MaxConcurrent,
			"batch_parallel": c.Whisper.BatchParallel,
			"language":       c.Whisper.Language,
		},
		"audio": map[string]interface{}{
			"target_sample_rate": c.Audio.TargetSampleRate,
			"target_channels":    c.Audio.TargetChannels,
			"chunk_duration":     c.Audio.ChunkDuration,
			"chunk_overlap":      c.Audio.ChunkOverlap,
			"chunk_threshold":    c.Audio.ChunkThreshold,
		},
		"ocr": map[string]interface{}{
			"base_url": c.OCR.BaseURL,
			"model":    c.OCR.Model,
			"timeout":  c.OCR.Timeout,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"chat": map[string]interface{}{
			"active_sessions": h.deps.Store.Count(),
		},
	}
	if h.deps.Transcriber != nil {
		stats["transcription"] = h.deps.Transcriber.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}
