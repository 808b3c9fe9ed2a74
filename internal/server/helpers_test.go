package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GuyNachshon/hirag/internal/audio"
	"github.com/GuyNachshon/hirag/internal/chat"
	"github.com/GuyNachshon/hirag/internal/config"
	"github.com/GuyNachshon/hirag/internal/llm"
	"github.com/GuyNachshon/hirag/internal/metrics"
	"github.com/GuyNachshon/hirag/internal/rag"
	"github.com/GuyNachshon/hirag/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRetriever struct {
	chunks []rag.Chunk
	err    error
}

func (f *fakeRetriever) Query(ctx context.Context, text, mode string, topK int) ([]rag.Chunk, error) {
	return f.chunks, f.err
}

func (f *fakeRetriever) Health(ctx context.Context) error {
	return f.err
}

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
	return f.reply, f.err
}

// testEnv is a server wired to fakes, with its temp directory and metrics registry exposed
type testEnv struct {
	server   *HTTPServer
	handler  http.Handler
	tempDir  string
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

type envOption func(d *Deps)

func withRetriever(r *fakeRetriever) envOption {
	return func(d *Deps) {
		d.Retriever = r
		d.Searcher = rag.NewSearcher(r, d.Logger, d.Metrics)
		d.Generator = rag.NewGenerator(r, &fakeCompleter{reply: "Answer from context"},
			rag.GeneratorConfig{}, d.Logger, d.Metrics)
	}
}

func withWhisper(t *testing.T, handler http.HandlerFunc) envOption {
	t.Helper()
	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)
	return func(d *Deps) {
		client, err := transcription.NewClient(transcription.Config{
			BaseURL: upstream.URL,
			Timeout: 5 * time.Second,
		}, d.Logger, d.Metrics)
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		d.Transcriber = client
	}
}

// newTestEnv builds a server with an audio processor whose external tools are absent
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetricsWith(registry)

	cfg := config.Default()
	cfg.Audio.TempDir = t.TempDir()

	processor, err := audio.NewProcessor(cfg.Audio, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New(name + ": not installed")
	}, testLogger(), m)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	deps := Deps{
		Config:   cfg,
		Logger:   testLogger(),
		Metrics:  m,
		Gatherer: registry,
		Store:    chat.NewStore(),
		Audio:    processor,
	}
	deps.Generator = rag.NewGenerator(nil, &fakeCompleter{reply: "Direct answer"}, rag.GeneratorConfig{}, deps.Logger, m)

	for _, opt := range opts {
		opt(&deps)
	}

	s := NewHTTPServer(deps)
	return &testEnv{server: s, handler: s.Handler(), tempDir: cfg.Audio.TempDir, registry: registry, metrics: m}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

// tempEntries lists what is left in the environment's temp directory
func (e *testEnv) tempEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	if err != nil {
		t.Fatalf("Failed to read temp dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

// multipartRequest builds a POST with the given file parts and plain fields
func multipartRequest(t *testing.T, path string, files []filePart, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		if f.contentType != "" {
			header.Set("Content-Type", f.contentType)
		}
		part, err := w.CreatePart(header)
		if err != nil {
			t.Fatalf("Failed to create part: %v", err)
		}
		part.Write(f.data)
	}
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// sineWAV encodes a mono 16 kHz tone of the given length
func sineWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	const rate = 16000
	n := int(seconds * rate)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/rate)
	}
	data, err := audio.EncodeWAV(&audio.Buffer{SampleRate: rate, Channels: [][]float64{samples}})
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return data
}

// whisperOK answers like the transcription service with two segments
func whisperOK(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" {
		w.Write([]byte(`{"status":"healthy"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"text":"שלום עולם","language":"he","language_probability":0.97,"duration":1.0,
		"segments":[{"start":0,"end":0.5,"text":" שלום"},{"start":0.5,"end":1.0,"text":"עולם "}]}`))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}
