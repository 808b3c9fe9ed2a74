package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the RAG gateway
type Metrics struct {
	// Audio processing metrics
	AudioFilesProcessed *prometheus.CounterVec
	AudioProcessingTime prometheus.Histogram
	AudioDuration       prometheus.Histogram
	ChunksGenerated     prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// Chat and RAG metrics
	ActiveSessions    prometheus.Gauge
	MessagesStored    *prometheus.CounterVec
	RAGGenerations    *prometheus.CounterVec
	RAGDuration       prometheus.Histogram
	RAGContextSources prometheus.Histogram

	// File search metrics
	SearchRequests *prometheus.CounterVec
	SearchResults  prometheus.Histogram

	// OCR metrics
	OCRRequests *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them with reg
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		// Audio processing metrics
		AudioFilesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragapi_audio_files_processed_total",
			Help: "Total number of audio files processed, by conversion method",
		}, []string{"method"}),
		AudioProcessingTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragapi_audio_processing_duration_seconds",
			Help:    "Time spent converting uploaded audio",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		AudioDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragapi_audio_duration_seconds",
			Help:    "Duration of processed audio",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		ChunksGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "ragapi_audio_chunks_generated_total",
			Help: "Total number of audio chunks generated",
		}),

		// Transcription metrics
		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "ragapi_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: f.NewCounter(prometheus.CounterOpts{
			Name: "ragapi_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragapi_transcription_failures_total",
			Help: "Total number of failed transcription requests, by error code",
		}, []string{"code"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragapi_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		TranscriptionRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "ragapi_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Chat and RAG metrics
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "ragapi_chat_active_sessions",
			Help: "Current number of chat sessions held in memory",
		}),
		MessagesStored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragapi_chat_messages_total",
			Help: "Total number of chat messages stored, by role",
		}, []string{"role"}),
		RAGGenerations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragapi_rag_generations_total",
			Help: "Total number of response generations, by mode and outcome",
		}, []string{"mode", "outcome"}),
		RAGDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragapi_rag_generation_duration_seconds",
			Help:    "Duration of response generation including retrieval",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1.7 minutes
		}),
		RAGContextSources: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragapi_rag_context_sources",
			Help:    "Number of distinct sources used per generation",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),

		// File search metrics
		SearchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragapi_search_requests_total",
			Help: "Total number of file searches, by outcome",
		}, []string{"outcome"}),
		SearchResults: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragapi_search_results",
			Help:    "Number of results returned per file search",
			Buckets: prometheus.LinearBuckets(0, 5, 11),
		}),

		// OCR metrics
		OCRRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragapi_ocr_requests_total",
			Help: "Total number of document parse requests, by outcome",
		}, []string{"outcome"}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragapi_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ragapi_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragapi_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordAudioProcessed records a converted audio file
func (m *Metrics) RecordAudioProcessed(method string, processingSeconds, audioSeconds float64) {
	m.AudioFilesProcessed.WithLabelValues(method).Inc()
	m.AudioProcessingTime.Observe(processingSeconds)
	if audioSeconds > 0 {
		m.AudioDuration.Observe(audioSeconds)
	}
}

// RecordChunksGenerated adds n generated audio chunks
func (m *Metrics) RecordChunksGenerated(n int) {
	m.ChunksGenerated.Add(float64(n))
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(code string, durationSeconds float64) {
	m.TranscriptionFailures.WithLabelValues(code).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// SetActiveSessions sets the current number of chat sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordMessageStored increments the stored message counter for role
func (m *Metrics) RecordMessageStored(role string) {
	m.MessagesStored.WithLabelValues(role).Inc()
}

// RecordGeneration records one response generation
func (m *Metrics) RecordGeneration(mode, outcome string, durationSeconds float64, sources int) {
	m.RAGGenerations.WithLabelValues(mode, outcome).Inc()
	m.RAGDuration.Observe(durationSeconds)
	m.RAGContextSources.Observe(float64(sources))
}

// RecordSearch records one file search
func (m *Metrics) RecordSearch(outcome string, results int) {
	m.SearchRequests.WithLabelValues(outcome).Inc()
	m.SearchResults.Observe(float64(results))
}

// RecordOCR records one document parse request
func (m *Metrics) RecordOCR(outcome string) {
	m.OCRRequests.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
