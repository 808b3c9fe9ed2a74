package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/GuyNachshon/hirag/internal/audio"
	"github.com/GuyNachshon/hirag/internal/logging"
	"github.com/GuyNachshon/hirag/internal/transcription"
)

const (
	audioHealthTimeout = 5 * time.Second
	whisperTestTimeout = 10 * time.Second
)

// chunkInfo is a chunk as reported to API clients, with times in seconds
type chunkInfo struct {
	Index     int     `json:"chunk_index"`
	Path      string  `json:"chunk_path"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Duration  float64 `json:"duration"`
}

func toChunkInfo(chunks []audio.Chunk) []chunkInfo {
	out := make([]chunkInfo, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkInfo{
			Index:     c.Index,
			Path:      c.Path,
			StartTime: c.Start.Seconds(),
			EndTime:   c.End.Seconds(),
			Duration:  (c.End - c.Start).Seconds(),
		})
	}
	return out
}

// stagedAudio is an accepted upload converted to the target format
type stagedAudio struct {
	filename      string
	processedPath string
	metadata      *audio.Metadata
}

// stageAudio validates the upload's extension, saves it, checks it decodes and
// converts it. Every file written is registered with temps.
func (h *HTTPServer) stageAudio(ctx context.Context, temps *audio.TempFiles, file multipart.File,
	header *multipart.FileHeader, opts audio.Options) (*stagedAudio, *APIError) {

	if header.Filename == "" {
		return nil, validationError(http.StatusBadRequest, "missing_filename", "No filename provided")
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !audio.IsSupported(header.Filename) {
		return nil, validationError(http.StatusBadRequest, "unsupported_format",
			fmt.Sprintf("Unsupported file format: %s. Supported: %s", ext, strings.Join(audio.SupportedFormats(), ", ")))
	}

	path, err := saveUpload(temps, h.tempDir(), file, header.Filename)
	if err != nil {
		return nil, internalError("Failed to save upload", err)
	}

	if err := h.deps.Audio.Validate(ctx, path); err != nil {
		h.logger.Warn("Audio validation failed",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()))
		return nil, validationError(http.StatusBadRequest, "invalid_audio", "Invalid or corrupted audio file")
	}

	processed, meta, err := h.deps.Audio.Process(ctx, path, opts)
	if err != nil {
		if errors.Is(err, audio.ErrUnsupportedFormat) {
			return nil, validationError(http.StatusBadRequest, "unsupported_format", err.Error())
		}
		return nil, internalError("Audio processing failed", err)
	}
	temps.Add(processed)

	return &stagedAudio{filename: header.Filename, processedPath: processed, metadata: meta}, nil
}

func (h *HTTPServer) audioOptions(r *http.Request) audio.Options {
	return audio.Options{
		Normalize:     formBool(r, "normalize", true),
		RemoveSilence: formBool(r, "remove_silence", true),
	}
}

// handleAudioUpload implements POST /api/audio/upload
func (h *HTTPServer) handleAudioUpload(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audio == nil {
		writeError(w, unavailable("Audio processor not available"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())
	file, header, apiErr := formFile(r, "file")
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	defer file.Close()

	temps := audio.NewTempFiles()
	defer temps.Cleanup()

	opts := h.audioOptions(r)
	staged, apiErr := h.stageAudio(r.Context(), temps, file, header, opts)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	chunks := []chunkInfo{}
	chunked := false
	if formBool(r, "chunk_large_files", true) && h.deps.Audio.NeedsChunking(staged.metadata.ProcessedDuration) {
		parts, err := h.deps.Audio.Chunk(r.Context(), staged.processedPath, 0, 0)
		if err != nil {
			writeError(w, internalError("Audio chunking failed", err))
			return
		}
		for _, c := range parts {
			temps.Add(c.Path)
		}
		chunks = toChunkInfo(parts)
		chunked = true
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Audio file processed successfully",
		"data": map[string]interface{}{
			"original_filename": staged.filename,
			"processed_file":    staged.processedPath,
			"chunks":            chunks,
			"metadata":          staged.metadata,
			"processing_options": map[string]interface{}{
				"language":       formString(r, "language", transcription.DefaultLanguage),
				"normalize":      opts.Normalize,
				"remove_silence": opts.RemoveSilence,
				"chunked":        chunked,
			},
		},
	})
}

// handleAudioTranscribe implements POST /api/audio/transcribe: convert, chunk
// when long, transcribe each piece and merge.
func (h *HTTPServer) handleAudioTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audio == nil || h.deps.Transcriber == nil {
		writeError(w, unavailable("Audio transcription not available"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())
	file, header, apiErr := formFile(r, "file")
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	defer file.Close()

	temps := audio.NewTempFiles()
	defer temps.Cleanup()

	staged, apiErr := h.stageAudio(r.Context(), temps, file, header, h.audioOptions(r))
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	language := formString(r, "language", transcription.DefaultLanguage)
	includeTimestamps := formBool(r, "include_timestamps", true)
	opts := transcription.Options{
		Language:       language,
		WordTimestamps: formBool(r, "word_timestamps", false),
	}

	var result *transcription.Result
	var chunkResults []transcription.ChunkResult
	chunked := h.deps.Audio.NeedsChunking(staged.metadata.ProcessedDuration)

	if chunked {
		parts, err := h.deps.Audio.Chunk(r.Context(), staged.processedPath, 0, 0)
		if err != nil {
			writeError(w, internalError("Audio chunking failed", err))
			return
		}
		for _, c := range parts {
			temps.Add(c.Path)
		}

		for _, c := range parts {
			res, err := h.deps.Transcriber.Transcribe(r.Context(), c.Path, filepath.Base(c.Path), opts)
			if err != nil {
				logging.Error(h.logger, "chunk_transcription", err,
					slog.String("filename", staged.filename),
					slog.Int("chunk_index", c.Index))
				writeError(w, transcriptionError(fmt.Sprintf("Transcription of chunk %d failed", c.Index), err))
				return
			}
			chunkResults = append(chunkResults, transcription.ChunkResult{Index: c.Index, Start: c.Start, Result: res})
		}
		result = transcription.Merge(chunkResults, language)
	} else {
		res, err := h.deps.Transcriber.Transcribe(r.Context(), staged.processedPath, filepath.Base(staged.processedPath), opts)
		if err != nil {
			logging.Error(h.logger, "audio_transcription", err, slog.String("filename", staged.filename))
			writeError(w, transcriptionError("Transcription failed", err))
			return
		}
		result = res
	}

	data := map[string]interface{}{
		"success":               true,
		"text":                  result.Text,
		"language":              result.Language,
		"language_probability":  result.LanguageProbability,
		"duration":              result.Duration,
		"original_filename":     staged.filename,
		"processing_metadata":   staged.metadata,
		"chunked":               chunked,
		"chunk_count":           max(len(chunkResults), 1),
		"transcription_service": "whisper",
		"language_detected":     result.Language,
	}
	if includeTimestamps {
		data["segments"] = result.Segments
	}
	if chunked {
		data["chunk_transcriptions"] = chunkResults
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Audio transcribed successfully",
		"data":    data,
	})
}

func (h *HTTPServer) handleAudioFormats(w http.ResponseWriter, r *http.Request) {
	sampleRate, channels := h.config.Audio.TargetSampleRate, h.config.Audio.TargetChannels
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"supported_formats":  audio.SupportedFormats(),
			"target_format":      audio.TargetFormat,
			"target_sample_rate": sampleRate,
			"target_channels":    channels,
		},
	})
}

func (h *HTTPServer) handleAudioHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audio == nil || h.deps.Transcriber == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  "Audio services not initialized",
			"services": map[string]interface{}{
				"audio_processor": h.deps.Audio != nil,
				"whisper_service": false,
			},
		})
		return
	}

	status, err := h.deps.Transcriber.Probe(r.Context(), audioHealthTimeout)
	if err == nil && !status.Healthy {
		err = fmt.Errorf("whisper service returned status %d", status.StatusCode)
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
			"services": map[string]interface{}{
				"audio_processor": true,
				"whisper_service": false,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"services": map[string]interface{}{
			"audio_processor": true,
			"whisper_service": true,
			"whisper_url":     h.deps.Transcriber.BaseURL(),
			"ffmpeg":          h.deps.Audio.FFmpegAvailable(r.Context()),
		},
		"supported_formats": len(audio.SupportedFormats()),
	})
}

// handleAudioTestConvert runs conversion only and reports the metadata
func (h *HTTPServer) handleAudioTestConvert(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audio == nil {
		writeError(w, unavailable("Audio processor not available"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())
	file, header, apiErr := formFile(r, "file")
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	defer file.Close()

	temps := audio.NewTempFiles()
	defer temps.Cleanup()

	staged, apiErr := h.stageAudio(r.Context(), temps, file, header, h.audioOptions(r))
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Audio conversion test completed",
		"data": map[string]interface{}{
			"original_filename": staged.filename,
			"metadata":          staged.metadata,
		},
	})
}

// handleAudioTestWhisper probes the Whisper service and echoes its answer
func (h *HTTPServer) handleAudioTestWhisper(w http.ResponseWriter, r *http.Request) {
	if h.deps.Transcriber == nil {
		writeError(w, unavailable("Transcription service not available"))
		return
	}

	status, err := h.deps.Transcriber.Probe(r.Context(), whisperTestTimeout)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "failed",
			"error":  err.Error(),
			"whisper_service": map[string]interface{}{
				"url":     h.deps.Transcriber.BaseURL(),
				"healthy": false,
			},
		})
		return
	}

	code := http.StatusOK
	outcome := "success"
	if !status.Healthy {
		code = http.StatusServiceUnavailable
		outcome = "failed"
	}
	writeJSON(w, code, map[string]interface{}{
		"status":          outcome,
		"whisper_service": status,
	})
}
