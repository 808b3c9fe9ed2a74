package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GuyNachshon/hirag/internal/config"
	"github.com/GuyNachshon/hirag/internal/logging"
	"github.com/GuyNachshon/hirag/internal/metrics"
)

var (
	// ErrUnsupportedFormat is returned for extensions outside the allow-list
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrFileNotFound is returned when the input path does not exist
	ErrFileNotFound = errors.New("audio file not found")
	// ErrConversionFailed is returned when both native processing and ffmpeg fail
	ErrConversionFailed = errors.New("audio conversion failed")
)

const (
	// TargetFormat is the container produced for the transcription service
	TargetFormat = "wav"

	// Fixed parameters of the ffmpeg fallback
	fallbackSampleRate = 16000
	fallbackChannels   = 1

	MethodNative         = "native"
	MethodFFmpegDecode   = "ffmpeg_decode"
	MethodFFmpegFallback = "ffmpeg_fallback"
)

var supportedFormats = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".ogg":  true,
	".flac": true,
	".wma":  true,
	".aac":  true,
	".opus": true,
	".webm": true,
	".3gp":  true,
}

// SupportedFormats returns the accepted input extensions in sorted order
func SupportedFormats() []string {
	formats := make([]string, 0, len(supportedFormats))
	for ext := range supportedFormats {
		formats = append(formats, ext)
	}
	sort.Strings(formats)
	return formats
}

// IsSupported reports whether the file name carries an accepted extension
func IsSupported(name string) bool {
	return supportedFormats[strings.ToLower(filepath.Ext(name))]
}

// Options controls a single Process call. Zero sample rate or channels
// fall back to the processor configuration.
type Options struct {
	Normalize        bool
	RemoveSilence    bool
	TargetSampleRate int
	TargetChannels   int
}

// ProcessingApplied records which enhancement steps ran
type ProcessingApplied struct {
	Normalize          bool `json:"normalize"`
	RemoveSilence      bool `json:"remove_silence"`
	SpeechOptimization bool `json:"speech_optimization"`
}

// Metadata describes one conversion
type Metadata struct {
	OriginalFile       string             `json:"original_file"`
	ProcessedFile      string             `json:"processed_file"`
	OriginalFormat     string             `json:"original_format"`
	TargetFormat       string             `json:"target_format"`
	OriginalSampleRate int                `json:"original_sample_rate,omitempty"`
	TargetSampleRate   int                `json:"target_sample_rate"`
	OriginalChannels   int                `json:"original_channels,omitempty"`
	TargetChannels     int                `json:"target_channels"`
	OriginalDuration   float64            `json:"original_duration,omitempty"`
	ProcessedDuration  float64            `json:"processed_duration,omitempty"`
	FileSize           int64              `json:"file_size"`
	ConversionMethod   string             `json:"conversion_method"`
	ProcessingApplied  *ProcessingApplied `json:"processing_applied,omitempty"`
}

// ProbeInfo is the subset of ffprobe output used for validation
type ProbeInfo struct {
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	BitRate    int64   `json:"bitrate"`
}

// Runner executes an external command and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands through os/exec, capturing stderr into the error
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w\nStderr: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Processor converts uploaded audio into the format the transcription service expects
type Processor struct {
	config  config.AudioConfig
	tempDir string
	run     Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProcessor creates a processor. A nil runner uses ExecRunner; metrics may be nil.
func NewProcessor(cfg config.AudioConfig, run Runner, logger *slog.Logger, m *metrics.Metrics) (*Processor, error) {
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		config:  cfg,
		tempDir: tempDir,
		run:     run,
		logger:  logger,
		metrics: m,
	}, nil
}

// TempDir returns the directory processed files and chunks are written to
func (p *Processor) TempDir() string {
	return p.tempDir
}

// Process converts the file at path into PCM16 WAV. WAV input is decoded natively and
// other formats are decoded to PCM by ffmpeg; both then run the enhancement chain.
// If that fails, ffmpeg converts the input with fixed parameters and no enhancement.
func (p *Processor) Process(ctx context.Context, path string, opts Options) (string, *Metadata, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return "", nil, fmt.Errorf("failed to stat audio file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supportedFormats[ext] {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	if opts.TargetSampleRate <= 0 {
		opts.TargetSampleRate = p.config.TargetSampleRate
	}
	if opts.TargetChannels <= 0 {
		opts.TargetChannels = p.config.TargetChannels
	}

	outPath := filepath.Join(p.tempDir, "processed_"+uuid.NewString()+"."+TargetFormat)
	start := time.Now()

	meta, err := p.processNative(ctx, path, outPath, opts)
	if err != nil {
		p.logger.Warn("Native audio processing failed, using ffmpeg fallback",
			slog.String("file", filepath.Base(path)),
			slog.String("error", err.Error()))

		var ffErr error
		meta, ffErr = p.convertWithFFmpeg(ctx, path, outPath)
		if ffErr != nil {
			os.Remove(outPath)
			logging.Error(p.logger, "audio_conversion", ffErr, slog.String("file", filepath.Base(path)))
			return "", nil, fmt.Errorf("%w: native: %v; ffmpeg: %v", ErrConversionFailed, err, ffErr)
		}
	}

	meta.OriginalFile = path
	meta.OriginalFormat = ext
	meta.ProcessedFile = outPath
	meta.TargetFormat = TargetFormat

	elapsed := time.Since(start)
	logging.Performance(p.logger, "audio_processing", elapsed,
		slog.String("method", meta.ConversionMethod),
		slog.Float64("processed_duration", meta.ProcessedDuration),
		slog.Int64("file_size", meta.FileSize))
	if p.metrics != nil {
		p.metrics.RecordAudioProcessed(meta.ConversionMethod, elapsed.Seconds(), meta.ProcessedDuration)
	}

	return outPath, meta, nil
}

func (p *Processor) processNative(ctx context.Context, inPath, outPath string, opts Options) (*Metadata, error) {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	method := MethodNative
	if !isWAV(data) {
		if data, err = p.decodeWithFFmpeg(ctx, inPath); err != nil {
			return nil, err
		}
		method = MethodFFmpegDecode
	}

	buf, info, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	if buf, err = ToChannels(buf, opts.TargetChannels); err != nil {
		return nil, err
	}
	if buf, err = Resample(buf, opts.TargetSampleRate); err != nil {
		return nil, err
	}

	if opts.Normalize {
		Normalize(buf)
	}
	if opts.RemoveSilence {
		buf = TrimSilence(buf)
	}
	if err := OptimizeSpeech(buf); err != nil {
		return nil, fmt.Errorf("speech optimization failed: %w", err)
	}

	size, err := WriteWAVFile(outPath, buf)
	if err != nil {
		return nil, err
	}

	return &Metadata{
		OriginalSampleRate: int(info.SampleRate),
		TargetSampleRate:   opts.TargetSampleRate,
		OriginalChannels:   int(info.Channels),
		TargetChannels:     opts.TargetChannels,
		OriginalDuration:   info.Duration,
		ProcessedDuration:  buf.Duration(),
		FileSize:           size,
		ConversionMethod:   method,
		ProcessingApplied: &ProcessingApplied{
			Normalize:          opts.Normalize,
			RemoveSilence:      opts.RemoveSilence,
			SpeechOptimization: true,
		},
	}, nil
}

// decodeWithFFmpeg decodes a compressed input to PCM WAV bytes, keeping its
// sample rate and channel count. The intermediate file is always removed.
func (p *Processor) decodeWithFFmpeg(ctx context.Context, inPath string) ([]byte, error) {
	tmp := filepath.Join(p.tempDir, "decoded_"+uuid.NewString()+"."+TargetFormat)
	defer os.Remove(tmp)

	if _, err := p.run(ctx, p.config.FFmpegPath,
		"-i", inPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-y",
		tmp,
	); err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode produced no output: %w", err)
	}
	if !isWAV(data) {
		return nil, errNotWAV
	}
	return data, nil
}

// convertWithFFmpeg runs the fixed fallback conversion: mono, 16-bit PCM, 16 kHz.
// Original stream properties come from ffprobe when it is available.
func (p *Processor) convertWithFFmpeg(ctx context.Context, inPath, outPath string) (*Metadata, error) {
	_, err := p.run(ctx, p.config.FFmpegPath,
		"-i", inPath,
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(fallbackSampleRate),
		"-ac", strconv.Itoa(fallbackChannels),
		"-y",
		outPath,
	)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg produced no output: %w", err)
	}

	meta := &Metadata{
		TargetSampleRate:  fallbackSampleRate,
		TargetChannels:    fallbackChannels,
		FileSize:          stat.Size(),
		ConversionMethod:  MethodFFmpegFallback,
		ProcessingApplied: &ProcessingApplied{},
	}
	if data, err := os.ReadFile(outPath); err == nil {
		if info, err := ReadWAVInfo(data); err == nil {
			meta.ProcessedDuration = info.Duration
		}
	}
	if info, err := p.Probe(ctx, inPath); err == nil {
		meta.OriginalSampleRate = info.SampleRate
		meta.OriginalChannels = info.Channels
		meta.OriginalDuration = info.Duration
	} else {
		p.logger.Debug("ffprobe unavailable for fallback metadata",
			slog.String("file", filepath.Base(inPath)),
			slog.String("error", err.Error()))
	}
	return meta, nil
}

// Probe reads stream metadata with ffprobe
func (p *Processor) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	out, err := p.run(ctx, p.config.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}

	var probe struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
			BitRate  string `json:"bit_rate"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &ProbeInfo{Codec: "unknown"}
	info.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	info.BitRate, _ = strconv.ParseInt(probe.Format.BitRate, 10, 64)
	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		info.SampleRate, _ = strconv.Atoi(s.SampleRate)
		info.Channels = s.Channels
		if s.CodecName != "" {
			info.Codec = s.CodecName
		}
		break
	}
	return info, nil
}

// Validate checks that path has an accepted extension and holds decodable audio.
// WAV headers are checked natively; other formats are probed with ffprobe.
func (p *Processor) Validate(ctx context.Context, path string) error {
	if !IsSupported(path) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("failed to read audio file: %w", err)
	}

	if isWAV(data) {
		info, err := ReadWAVInfo(data)
		if err != nil {
			return err
		}
		if info.NumFrames == 0 {
			return fmt.Errorf("no audio data found")
		}
		return nil
	}

	info, err := p.Probe(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to probe audio: %w", err)
	}
	if info.Duration <= 0 || info.SampleRate <= 0 || info.Channels <= 0 {
		return fmt.Errorf("invalid audio stream: duration=%.2f sample_rate=%d channels=%d",
			info.Duration, info.SampleRate, info.Channels)
	}
	return nil
}

// FFmpegAvailable reports whether the ffmpeg binary runs
func (p *Processor) FFmpegAvailable(ctx context.Context) bool {
	_, err := p.run(ctx, p.config.FFmpegPath, "-version")
	return err == nil
}
