package server

import (
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/GuyNachshon/hirag/internal/audio"
	"github.com/GuyNachshon/hirag/internal/logging"
	"github.com/GuyNachshon/hirag/internal/transcription"
)

// maxTranscribeBytes is the per-file cap on /api/transcribe
const maxTranscribeBytes = 100 << 20

var transcribeContentTypes = []string{
	"audio/wav", "audio/mpeg", "audio/mp3", "audio/ogg",
	"audio/flac", "audio/aac", "audio/webm", "audio/m4a",
	"audio/mp4", "audio/x-m4a",
}

// transcriptionFailure is the error arm of a transcription response
type transcriptionFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// batchItemResponse is the per-file outcome of a batch request.
// Exactly one of Result or Error is set.
type batchItemResponse struct {
	Filename string                `json:"filename"`
	Success  bool                  `json:"success"`
	Result   *transcription.Result `json:"result,omitempty"`
	Error    string                `json:"error,omitempty"`
	Message  string                `json:"message,omitempty"`
}

// checkTranscribeFile validates content type and size before anything is written to disk
func checkTranscribeFile(header *multipart.FileHeader) *APIError {
	ct := contentType(header)
	if ct == "" {
		return validationError(http.StatusBadRequest, "invalid_file_type", "File content type not specified")
	}
	allowed := false
	for _, t := range transcribeContentTypes {
		if t == ct {
			allowed = true
			break
		}
	}
	if !allowed {
		return validationError(http.StatusBadRequest, "unsupported_file_type",
			fmt.Sprintf("Unsupported file type: %s. Supported types: %s", ct, strings.Join(transcribeContentTypes, ", ")))
	}
	if header.Size > maxTranscribeBytes {
		return validationError(http.StatusRequestEntityTooLarge, "file_too_large", "File too large. Maximum size is 100MB")
	}
	return nil
}

func writeTranscriptionFailure(w http.ResponseWriter, e *APIError) {
	if rw, ok := w.(*responseWriter); ok {
		rw.errorKind = e.Kind
	}
	writeJSON(w, e.Status, transcriptionFailure{Success: false, Error: e.Code, Message: e.Message})
}

// handleTranscribe implements POST /api/transcribe
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.deps.Transcriber == nil {
		writeTranscriptionFailure(w, unavailable("Transcription service not available"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())
	file, header, apiErr := formFile(r, "file")
	if apiErr != nil {
		writeTranscriptionFailure(w, apiErr)
		return
	}
	defer file.Close()

	if apiErr := checkTranscribeFile(header); apiErr != nil {
		writeTranscriptionFailure(w, apiErr)
		return
	}

	temps := audio.NewTempFiles()
	defer temps.Cleanup()

	filename := header.Filename
	if filename == "" {
		filename = "audio"
	}

	path, err := saveUpload(temps, h.tempDir(), file, filename)
	if err != nil {
		writeTranscriptionFailure(w, internalError("Server error during transcription", err))
		return
	}

	result, err := h.deps.Transcriber.Transcribe(r.Context(), path, filename, transcription.Options{
		Language: r.FormValue("language"),
	})
	if err != nil {
		logging.Error(h.logger, "transcribe", err, slog.String("filename", filename))
		writeTranscriptionFailure(w, transcriptionError("Server error during transcription", err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleTranscribeBatch implements POST /api/transcribe/batch. Each file in the
// "files" field succeeds or fails independently.
func (h *HTTPServer) handleTranscribeBatch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Transcriber == nil {
		writeError(w, unavailable("Transcription service not available"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())
	if apiErr := parseForm(r); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, validationError(http.StatusBadRequest, "missing_file", "No files provided"))
		return
	}

	temps := audio.NewTempFiles()
	defer temps.Cleanup()

	responses := make([]batchItemResponse, len(headers))
	var items []transcription.BatchItem
	var itemIndex []int

	for i, header := range headers {
		responses[i].Filename = header.Filename
		if apiErr := checkTranscribeFile(header); apiErr != nil {
			responses[i].Error, responses[i].Message = apiErr.Code, apiErr.Message
			continue
		}

		path, err := h.stagePart(temps, header)
		if err != nil {
			responses[i].Error, responses[i].Message = "server_error", err.Error()
			continue
		}
		items = append(items, transcription.BatchItem{Path: path, Filename: header.Filename})
		itemIndex = append(itemIndex, i)
	}

	opts := transcription.Options{Language: r.FormValue("language")}
	results := h.deps.Transcriber.TranscribeBatch(r.Context(), items, h.config.Whisper.BatchParallel, opts)

	for j, res := range results {
		out := &responses[itemIndex[j]]
		if res.Err != nil {
			apiErr := transcriptionError("Transcription failed", res.Err)
			out.Error, out.Message = apiErr.Code, apiErr.Message
			continue
		}
		out.Success = true
		out.Result = res.Result
	}

	successful := 0
	for _, resp := range responses {
		if resp.Success {
			successful++
		}
	}

	h.logger.Info("Batch transcription completed",
		slog.Int("total_files", len(responses)),
		slog.Int("successful", successful))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":     responses,
		"total_files": len(responses),
		"successful":  successful,
		"failed":      len(responses) - successful,
	})
}

// stagePart writes one multipart file part to a tracked temp file
func (h *HTTPServer) stagePart(temps *audio.TempFiles, header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()
	return saveUpload(temps, h.tempDir(), src, header.Filename)
}

func (h *HTTPServer) handleTranscribeHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Transcriber == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "unavailable",
			"service": "transcription",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"service":     "transcription",
		"whisper_url": h.deps.Transcriber.BaseURL(),
	})
}
