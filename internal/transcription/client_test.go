package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeAudio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("RIFF....WAVEfmt fake audio"), 0644); err != nil {
		t.Fatalf("Failed to write audio fixture: %v", err)
	}
	return path
}

func newTestClient(t *testing.T, url string, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = url
	client, err := NewClient(cfg, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}, testLogger(), nil); err == nil {
		t.Error("Expected error for empty base URL")
	}
}

func TestTranscribeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			return
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing file field: %v", err)
			return
		}
		if header.Filename != "meeting.wav" {
			t.Errorf("Expected filename meeting.wav, got %s", header.Filename)
		}
		if got := r.FormValue("language"); got != "he" {
			t.Errorf("Expected language he, got %s", got)
		}
		if got := r.FormValue("response_format"); got != "json" {
			t.Errorf("Expected response_format json, got %s", got)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"text":                 "שלום עולם",
			"language":             "he",
			"language_probability": 0.98,
			"duration":             2.5,
			"segments": []map[string]interface{}{
				{"start": 0.0, "end": 1.2, "text": " שלום"},
				{"start": 1.2, "end": 2.5, "text": " עולם"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{})
	result, err := client.Transcribe(context.Background(), writeAudio(t, "upload_123.wav"), "meeting.wav", Options{})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if !result.Success {
		t.Error("Expected success=true")
	}
	if result.Language != "he" {
		t.Errorf("Expected language he, got %s", result.Language)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(result.Segments))
	}
	if joined := strings.TrimSpace(JoinSegments(result.Segments)); joined != result.Text {
		t.Errorf("Expected joined segments %q to equal text %q", joined, result.Text)
	}
	if !strings.HasPrefix(result.Message, "Transcription completed in") {
		t.Errorf("Unexpected message: %s", result.Message)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Expected 1 total/1 success, got %d/%d", stats.TotalRequests, stats.SuccessRequests)
	}
}

func TestTranscribeDerivesTextAndNormalizesSegments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"","duration":3,"segments":[
			{"start":0,"end":1.5,"text":"one"},
			{"start":1.0,"end":0.5,"text":"two"},
			{"start":2,"end":3,"text":"three"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{})
	result, err := client.Transcribe(context.Background(), writeAudio(t, "a.wav"), "a.wav", Options{})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "one two three" {
		t.Errorf("Expected text derived from segments, got %q", result.Text)
	}
	if result.Language != DefaultLanguage {
		t.Errorf("Expected default language, got %s", result.Language)
	}

	prevEnd := 0.0
	for i, s := range result.Segments {
		if s.End < s.Start {
			t.Errorf("Segment %d ends before it starts: %+v", i, s)
		}
		if s.End < prevEnd {
			t.Errorf("Segment %d end %.2f before previous end %.2f", i, s.End, prevEnd)
		}
		prevEnd = s.End
	}
}

func TestTranscribeUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{MaxRetries: 0})
	result, err := client.Transcribe(context.Background(), writeAudio(t, "a.wav"), "a.wav", Options{})
	if result != nil {
		t.Error("Expected no result on failure")
	}

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *Error, got %T: %v", err, err)
	}
	if terr.Code != CodeUpstreamStatus {
		t.Errorf("Expected upstream_status, got %s", terr.Code)
	}
	if terr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", terr.StatusCode)
	}
	if !strings.Contains(terr.Body, "model not loaded") {
		t.Errorf("Expected upstream body carried, got %q", terr.Body)
	}
	if client.GetStats().FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", client.GetStats().FailedRequests)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"ok","segments":[{"start":0,"end":1,"text":"ok"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{MaxRetries: 1})
	result, err := client.Transcribe(context.Background(), writeAudio(t, "a.wav"), "a.wav", Options{})
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if result.Text != "ok" {
		t.Errorf("Expected text ok, got %s", result.Text)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 calls, got %d", got)
	}
	if client.GetStats().TotalRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", client.GetStats().TotalRetries)
	}
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{MaxRetries: 3})
	if _, err := client.Transcribe(context.Background(), writeAudio(t, "a.wav"), "a.wav", Options{}); err == nil {
		t.Fatal("Expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected a single call for 400, got %d", got)
	}
}

func TestTranscribeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{Timeout: 50 * time.Millisecond})
	_, err := client.Transcribe(context.Background(), writeAudio(t, "a.wav"), "a.wav", Options{})

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *Error, got %T: %v", err, err)
	}
	if terr.Code != CodeTimeout {
		t.Errorf("Expected timeout code, got %s", terr.Code)
	}
	if terr.HTTPStatus() != http.StatusGatewayTimeout {
		t.Errorf("Expected 504 mapping, got %d", terr.HTTPStatus())
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", Config{})
	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.wav"), "", Options{})

	var terr *Error
	if !errors.As(err, &terr) || terr.Code != CodeRequestFailed {
		t.Errorf("Expected request_failed error, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected wrapped not-exist error, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		healthy bool
	}{
		{"healthy", http.StatusOK, `{"status":"healthy","model_loaded":true}`, true},
		{"unhealthy", http.StatusServiceUnavailable, "loading", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("Expected /health, got %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, Config{})
			status, err := client.Health(context.Background())
			if err != nil {
				t.Fatalf("Health failed: %v", err)
			}
			if status.Healthy != tt.healthy {
				t.Errorf("Expected healthy=%v, got %v", tt.healthy, status.Healthy)
			}
			if status.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, status.StatusCode)
			}
		})
	}
}

func TestHealthUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, url, Config{})
	if _, err := client.Health(context.Background()); err == nil {
		t.Error("Expected error for unreachable service")
	}
}

func TestErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		err      *Error
		expected int
	}{
		{&Error{Code: CodeTimeout}, http.StatusGatewayTimeout},
		{&Error{Code: CodeUpstreamStatus, StatusCode: 422}, 422},
		{&Error{Code: CodeUpstreamStatus, StatusCode: 302}, http.StatusBadGateway},
		{&Error{Code: CodeRequestFailed}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.expected {
			t.Errorf("%s/%d: expected %d, got %d", tt.err.Code, tt.err.StatusCode, tt.expected, got)
		}
	}
}
