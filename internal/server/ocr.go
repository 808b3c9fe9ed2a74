package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/GuyNachshon/hirag/internal/audio"
	"github.com/GuyNachshon/hirag/internal/logging"
	"github.com/GuyNachshon/hirag/internal/ocr"
)

// handleOCRParse implements POST /api/ocr/parse with a "file" part and an optional prompt_mode
func (h *HTTPServer) handleOCRParse(w http.ResponseWriter, r *http.Request) {
	if h.deps.OCR == nil {
		writeError(w, unavailable("OCR service not available"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())
	file, header, apiErr := formFile(r, "file")
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	defer file.Close()

	if !ocr.IsSupported(header.Filename) {
		writeError(w, validationError(http.StatusBadRequest, "unsupported_file_type",
			fmt.Sprintf("Unsupported file type: %s. Supported: %s",
				strings.ToLower(filepath.Ext(header.Filename)), strings.Join(ocr.SupportedExtensions(), ", "))))
		return
	}

	mode := formString(r, "prompt_mode", r.URL.Query().Get("prompt_mode"))

	temps := audio.NewTempFiles()
	defer temps.Cleanup()

	path, err := saveUpload(temps, h.tempDir(), file, header.Filename)
	if err != nil {
		writeError(w, internalError("Failed to save upload", err))
		return
	}

	result, err := h.deps.OCR.Parse(r.Context(), path, header.Filename, mode)
	if err != nil {
		logging.Error(h.logger, "ocr_parse", err, slog.String("filename", header.Filename))
		if errors.Is(err, ocr.ErrUnsupportedFile) {
			writeError(w, validationError(http.StatusBadRequest, "unsupported_file_type", err.Error()))
			return
		}
		writeError(w, &APIError{Kind: KindUpstream, Status: http.StatusBadGateway, Code: "parsing_failed",
			Message: "Parsing failed: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

func (h *HTTPServer) handleOCRHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.OCR == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unavailable",
			"service": "ocr",
		})
		return
	}

	healthy := h.deps.OCR.Health(r.Context()) == nil
	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"service":      "ocr",
		"vllm_service": healthy,
		"model":        h.deps.OCR.Model(),
		"modes":        ocr.Modes(),
		"extensions":   ocr.SupportedExtensions(),
	})
}
