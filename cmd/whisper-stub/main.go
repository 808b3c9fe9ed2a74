// Command whisper-stub is a stand-in for the Whisper transcription service.
// It answers the same multipart /transcribe contract with a canned Hebrew
// transcript whose segments span the uploaded audio's duration.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/GuyNachshon/hirag/internal/audio"
)

const (
	modelName     = "ivrit-ai/whisper-large-v3-turbo"
	maxUploadSize = 100 << 20
	// fallbackDuration is reported for uploads whose length cannot be read natively
	fallbackDuration = 3.0
)

var cannedSentences = []string{
	"שלום וברוכים הבאים",
	"זוהי תמלול בדיקה של קטע שמע",
	"תודה רבה",
}

var allowedTypes = map[string]bool{
	"audio/wav": true, "audio/x-wav": true, "audio/wave": true,
	"audio/mpeg": true, "audio/mp3": true, "audio/ogg": true,
	"audio/flac": true, "audio/aac": true, "audio/webm": true,
	"audio/m4a": true, "audio/mp4": true, "audio/x-m4a": true,
}

type segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type transcriptionResponse struct {
	Success             bool      `json:"success"`
	Text                string    `json:"text"`
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Duration            float64   `json:"duration"`
	Segments            []segment `json:"segments"`
}

type stub struct {
	logger  *slog.Logger
	latency time.Duration
}

func main() {
	addr := flag.String("addr", ":8004", "Listen address")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated processing time per file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := &stub{logger: logger, latency: *latency}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /transcribe_batch", s.handleTranscribeBatch)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /models", s.handleModels)

	logger.Info("Whisper stub starting",
		slog.String("address", *addr),
		slog.String("model", modelName))

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func (s *stub) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ct := strings.ToLower(header.Header.Get("Content-Type"))
	if ct != "" && ct != "application/octet-stream" && !allowedTypes[ct] {
		http.Error(w, fmt.Sprintf("Unsupported file type: %s", ct), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	resp := s.transcribe(data, r.FormValue("language"))

	s.logger.Info("Transcription request",
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.String("content_type", ct),
		slog.String("language", resp.Language),
		slog.Float64("duration", resp.Duration))

	writeJSON(w, http.StatusOK, resp)
}

func (s *stub) handleTranscribeBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	var results []map[string]interface{}
	for _, header := range r.MultipartForm.File["files"] {
		entry := map[string]interface{}{"filename": header.Filename}

		f, err := header.Open()
		if err != nil {
			entry["success"], entry["error"] = false, err.Error()
			results = append(results, entry)
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			entry["success"], entry["error"] = false, err.Error()
			results = append(results, entry)
			continue
		}

		entry["success"] = true
		entry["result"] = s.transcribe(data, r.FormValue("language"))
		results = append(results, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *stub) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "whisper-transcription",
		"model":   modelName,
		"version": "1.0.0",
	})
}

func (s *stub) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": []map[string]interface{}{
			{"id": modelName, "object": "model", "owned_by": "ivrit-ai"},
		},
	})
}

// transcribe builds the canned response, spreading the sentences evenly over the audio
func (s *stub) transcribe(data []byte, language string) transcriptionResponse {
	time.Sleep(s.latency)

	if language == "" {
		language = "he"
	}
	duration := fallbackDuration
	if info, err := audio.ReadWAVInfo(data); err == nil && info.Duration > 0 {
		duration = info.Duration
	}

	step := duration / float64(len(cannedSentences))
	segments := make([]segment, 0, len(cannedSentences))
	for i, text := range cannedSentences {
		segments = append(segments, segment{
			Start: float64(i) * step,
			End:   float64(i+1) * step,
			Text:  text,
		})
	}

	return transcriptionResponse{
		Success:             true,
		Text:                strings.Join(cannedSentences, " "),
		Language:            language,
		LanguageProbability: 0.98,
		Duration:            duration,
		Segments:            segments,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
