package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/GuyNachshon/hirag/internal/audio"
)

// multipartMemory is how much of a multipart body is buffered in memory before spilling to disk
const multipartMemory = 32 << 20

// parseForm parses a multipart body, mapping an oversized body to 413
func parseForm(r *http.Request) *APIError {
	if r.MultipartForm != nil {
		return nil
	}
	err := r.ParseMultipartForm(multipartMemory)
	if err == nil {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return validationError(http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Sprintf("File too large. Maximum size is %dMB", maxErr.Limit>>20))
	}
	return validationError(http.StatusBadRequest, "invalid_request", "Invalid multipart form: "+err.Error())
}

// formFile returns the named file part of a multipart request
func formFile(r *http.Request, field string) (multipart.File, *multipart.FileHeader, *APIError) {
	if apiErr := parseForm(r); apiErr != nil {
		return nil, nil, apiErr
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, validationError(http.StatusBadRequest, "missing_file", "No file provided")
	}
	return file, header, nil
}

// saveUpload copies an uploaded part into a tracked temp file keeping its extension
func saveUpload(temps *audio.TempFiles, dir string, src io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".tmp"
	}
	dst, err := temps.Create(dir, "upload_*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return dst.Name(), nil
}

// contentType returns the media type of a part without parameters
func contentType(header *multipart.FileHeader) string {
	ct := header.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mediaType
}

// formBool reads a boolean form field, using def when absent or unparseable
func formBool(r *http.Request, field string, def bool) bool {
	v := strings.TrimSpace(r.FormValue(field))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// formString reads a form field, using def when absent
func formString(r *http.Request, field, def string) string {
	if v := strings.TrimSpace(r.FormValue(field)); v != "" {
		return v
	}
	return def
}
