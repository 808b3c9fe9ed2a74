package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GuyNachshon/hirag/internal/logging"
	"github.com/GuyNachshon/hirag/internal/metrics"
)

// DefaultLanguage is reported when the service omits a language
const DefaultLanguage = "he"

// Client uploads audio files to the Whisper transcription service
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Concurrency limit
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	HealthTimeout time.Duration
	MaxRetries    int
	MaxConcurrent int
	Language      string
}

// Options are per-request transcription parameters
type Options struct {
	Language       string
	WordTimestamps bool
}

// Segment is one timed span of transcribed text
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is a successful transcription
type Result struct {
	Success             bool      `json:"success"`
	Text                string    `json:"text"`
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Duration            float64   `json:"duration"`
	Segments            []Segment `json:"segments"`
	Message             string    `json:"message,omitempty"`
}

// serviceResponse is the JSON body returned by the Whisper service
type serviceResponse struct {
	Text                string    `json:"text"`
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Duration            float64   `json:"duration"`
	Segments            []Segment `json:"segments"`
}

// HealthStatus is the outcome of probing the service's /health endpoint
type HealthStatus struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Healthy    bool        `json:"healthy"`
	Response   interface{} `json:"response,omitempty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new transcription client. Metrics may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 300 * time.Second
	}

	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 5 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.Language == "" {
		config.Language = DefaultLanguage
	}

	if logger == nil {
		logger = slog.Default()
	}

	// Per-call deadlines come from contexts so timeouts can be told apart from other failures
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		metrics:    m,
	}, nil
}

// BaseURL returns the configured service URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Transcribe uploads the file at path, presenting it to the service as filename.
// It returns exactly one of a result or an *Error.
func (c *Client) Transcribe(ctx context.Context, path, filename string, opts Options) (*Result, error) {
	// Acquire semaphore for concurrency limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, &Error{Code: CodeRequestFailed, Message: "Transcription cancelled", Err: ctx.Err()}
	}

	audio, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Code: CodeRequestFailed, Message: fmt.Sprintf("Transcription failed: %v", err), Err: err}
	}
	if filename == "" {
		filename = filepath.Base(path)
	}
	if opts.Language == "" {
		opts.Language = c.config.Language
	}

	c.logger.Info("Starting transcription", slog.String("filename", filename), slog.Int("bytes", len(audio)))

	startTime := time.Now()
	c.incrementTotalRequests()
	if c.metrics != nil {
		c.metrics.RecordTranscriptionRequest()
	}

	var lastErr *Error

	// Retry loop with exponential backoff
retry:
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.metrics != nil {
				c.metrics.RecordTranscriptionRetry()
			}

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				lastErr = &Error{Code: CodeRequestFailed, Message: "Transcription cancelled", Err: ctx.Err()}
				break retry
			}
		}

		resp, err := c.doRequest(ctx, audio, filename, opts)
		if err == nil {
			elapsed := time.Since(startTime)
			result := resp.toResult(c.config.Language)
			result.Message = fmt.Sprintf("Transcription completed in %.2fs", elapsed.Seconds())

			c.incrementSuccessRequests()
			c.updateAvgResponseTime(elapsed)
			if c.metrics != nil {
				c.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
			}

			logging.Performance(c.logger, "audio_transcription", elapsed,
				slog.String("filename", filename),
				slog.Float64("duration", result.Duration),
				slog.String("language", result.Language),
				slog.Int("text_length", len([]rune(result.Text))))

			return result, nil
		}

		lastErr = err
		if !err.retryable() {
			break retry
		}
	}

	elapsed := time.Since(startTime)
	c.incrementFailedRequests()
	if c.metrics != nil {
		c.metrics.RecordTranscriptionFailure(string(lastErr.Code), elapsed.Seconds())
	}
	logging.Error(c.logger, "audio_transcription", lastErr,
		slog.String("filename", filename),
		slog.String("code", string(lastErr.Code)),
		slog.Float64("processing_time", elapsed.Seconds()))

	return nil, lastErr
}

// doRequest performs a single upload
func (c *Client) doRequest(ctx context.Context, audio []byte, filename string, opts Options) (*serviceResponse, *Error) {
	body, contentType, err := createMultipartRequest(audio, filename, opts)
	if err != nil {
		return nil, &Error{Code: CodeRequestFailed, Message: "Failed to build request", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.config.BaseURL+"/transcribe", body)
	if err != nil {
		return nil, &Error{Code: CodeRequestFailed, Message: "Failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(reqCtx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(reqCtx, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Whisper service error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", logging.Preview(string(respBody), 500)))
		return nil, &Error{
			Code:       CodeUpstreamStatus,
			Message:    fmt.Sprintf("Whisper service error: %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	var parsed serviceResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Code: CodeRequestFailed, Message: "Failed to parse transcription response", Err: err}
	}
	return &parsed, nil
}

// createMultipartRequest creates the multipart/form-data body
func createMultipartRequest(audio []byte, filename string, opts Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"language", opts.Language},
		{"response_format", "json"},
		{"timestamp_granularities[]", "segment"},
	}
	if opts.WordTimestamps {
		fields = append(fields, [2]string{"timestamp_granularities[]", "word"})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func classifyTransportError(ctx context.Context, err error) *Error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{
			Code:    CodeTimeout,
			Message: "Transcription timeout - audio file may be too long",
			Err:     err,
		}
	}
	return &Error{
		Code:      CodeRequestFailed,
		Message:   "Transcription request failed",
		Err:       err,
		transient: ctx.Err() == nil,
	}
}

// toResult maps the service body into a result, enforcing segment ordering
func (r *serviceResponse) toResult(defaultLanguage string) *Result {
	segments := NormalizeSegments(r.Segments)

	text := strings.TrimSpace(r.Text)
	if text == "" {
		text = JoinSegments(segments)
	}

	language := r.Language
	if language == "" {
		language = defaultLanguage
	}

	return &Result{
		Success:             true,
		Text:                text,
		Language:            language,
		LanguageProbability: r.LanguageProbability,
		Duration:            r.Duration,
		Segments:            segments,
	}
}

// NormalizeSegments trims segment text and clamps times so that every segment
// ends no earlier than it starts and ends never decrease.
func NormalizeSegments(in []Segment) []Segment {
	out := make([]Segment, 0, len(in))
	prevEnd := math.Inf(-1)
	for _, s := range in {
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End < s.Start {
			s.End = s.Start
		}
		if s.End < prevEnd {
			s.End = prevEnd
		}
		prevEnd = s.End
		s.Text = strings.TrimSpace(s.Text)
		out = append(out, s)
	}
	return out
}

// JoinSegments concatenates non-empty segment texts with single spaces
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Health probes the service with the configured health timeout
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	return c.Probe(ctx, c.config.HealthTimeout)
}

// Probe issues GET {base}/health with the given timeout. A non-200 answer is
// reported as unhealthy, not as an error.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	status := &HealthStatus{
		URL:        c.config.BaseURL,
		StatusCode: resp.StatusCode,
		Healthy:    resp.StatusCode == http.StatusOK,
	}

	var decoded interface{}
	if status.Healthy && json.Unmarshal(body, &decoded) == nil {
		status.Response = decoded
	} else {
		status.Response = string(body)
	}
	return status, nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish or ctx to expire
func (c *Client) Close(ctx context.Context) error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		select {
		case c.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
