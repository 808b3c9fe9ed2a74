package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	HiRAG   HiRAGConfig   `yaml:"hirag"`
	LLM     LLMConfig     `yaml:"llm"`
	Whisper WhisperConfig `yaml:"whisper"`
	Audio   AudioConfig   `yaml:"audio"`
	OCR     OCRConfig     `yaml:"ocr"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	Address         string `yaml:"address"`
	ReadTimeout     int    `yaml:"read_timeout"`  // seconds
	WriteTimeout    int    `yaml:"write_timeout"` // seconds
	MaxUploadSizeMB int    `yaml:"max_upload_size_mb"`
}

// HiRAGConfig contains retrieval engine configuration
type HiRAGConfig struct {
	BaseURL                string `yaml:"base_url"` // empty disables retrieval
	WorkingDir             string `yaml:"working_dir"`
	Timeout                int    `yaml:"timeout"` // seconds
	EnableHierarchicalMode bool   `yaml:"enable_hierarchical_mode"`
	EnableNaiveRAG         bool   `yaml:"enable_naive_rag"`
	EnableLLMCache         bool   `yaml:"enable_llm_cache"`
}

// LLMConfig contains the OpenAI-compatible language model endpoint configuration
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Timeout     int     `yaml:"timeout"` // seconds
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// WhisperConfig contains transcription service configuration
type WhisperConfig struct {
	BaseURL       string `yaml:"base_url"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	BatchParallel int    `yaml:"batch_parallel"`
	Language      string `yaml:"language"`
}

// AudioConfig contains audio processing parameters
type AudioConfig struct {
	TargetSampleRate int    `yaml:"target_sample_rate"`
	TargetChannels   int    `yaml:"target_channels"`
	ChunkDuration    int    `yaml:"chunk_duration"`  // seconds
	ChunkOverlap     int    `yaml:"chunk_overlap"`   // seconds
	ChunkThreshold   int    `yaml:"chunk_threshold"` // seconds
	TempDir          string `yaml:"temp_dir"`
	FFmpegPath       string `yaml:"ffmpeg_path"`
	FFprobePath      string `yaml:"ffprobe_path"`
}

// OCRConfig contains document-layout OCR model configuration
type OCRConfig struct {
	BaseURL string `yaml:"base_url"` // empty disables OCR
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout int    `yaml:"timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file or environment overrides are present
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            8080,
			Address:         "0.0.0.0",
			ReadTimeout:     60,
			WriteTimeout:    600,
			MaxUploadSizeMB: 100,
		},
		HiRAG: HiRAGConfig{
			BaseURL:                "http://localhost:8010",
			WorkingDir:             "./hirag_data",
			Timeout:                120,
			EnableHierarchicalMode: true,
		},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:8000/v1",
			APIKey:      "0",
			Model:       "model",
			Timeout:     120,
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Whisper: WhisperConfig{
			BaseURL:       "http://rag-whisper:8004",
			Timeout:       300,
			MaxRetries:    0,
			MaxConcurrent: 4,
			BatchParallel: 1,
			Language:      "he",
		},
		Audio: AudioConfig{
			TargetSampleRate: 16000,
			TargetChannels:   1,
			ChunkDuration:    30,
			ChunkOverlap:     2,
			ChunkThreshold:   30,
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
		},
		OCR: OCRConfig{
			Model:   "dotsocr-model",
			APIKey:  "0",
			Timeout: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file (if it exists), applies environment overrides and validates
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// Environment-only deployment
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides configuration values from environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got '%s'", key, v)
		}
		*dst = n
		return nil
	}

	str("HIRAG_URL", &c.HiRAG.BaseURL)
	str("HIRAG_WORKING_DIR", &c.HiRAG.WorkingDir)
	str("VLLM_BASE_URL", &c.LLM.BaseURL)
	str("VLLM_API_KEY", &c.LLM.APIKey)
	str("VLLM_MODEL", &c.LLM.Model)
	str("WHISPER_SERVICE_URL", &c.Whisper.BaseURL)
	str("OCR_BASE_URL", &c.OCR.BaseURL)
	str("AUDIO_TEMP_DIR", &c.Audio.TempDir)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	for key, dst := range map[string]*int{
		"WHISPER_TIMEOUT":          &c.Whisper.Timeout,
		"AUDIO_TARGET_SAMPLE_RATE": &c.Audio.TargetSampleRate,
		"AUDIO_TARGET_CHANNELS":    &c.Audio.TargetChannels,
		"HTTP_PORT":                &c.HTTP.Port,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.HiRAG.Validate(); err != nil {
		return fmt.Errorf("hirag config: %w", err)
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}

	if err := c.Whisper.Validate(); err != nil {
		return fmt.Errorf("whisper config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.OCR.Validate(); err != nil {
		return fmt.Errorf("ocr config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.MaxUploadSizeMB < 1 {
		return fmt.Errorf("max_upload_size_mb must be at least 1, got %d", h.MaxUploadSizeMB)
	}

	return nil
}

// Validate validates retrieval engine configuration
func (h *HiRAGConfig) Validate() error {
	if h.BaseURL != "" {
		if err := validateURL(h.BaseURL); err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
	}

	if h.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", h.Timeout)
	}

	return nil
}

// Validate validates language model configuration
func (l *LLMConfig) Validate() error {
	if err := validateURL(l.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}

	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if l.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", l.Timeout)
	}

	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", l.Temperature)
	}

	if l.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", l.MaxTokens)
	}

	return nil
}

// Validate validates transcription service configuration
func (w *WhisperConfig) Validate() error {
	if err := validateURL(w.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}

	if w.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", w.Timeout)
	}

	if w.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", w.MaxRetries)
	}

	if w.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", w.MaxConcurrent)
	}

	if w.BatchParallel < 1 {
		return fmt.Errorf("batch_parallel must be at least 1, got %d", w.BatchParallel)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.TargetSampleRate < 8000 || a.TargetSampleRate > 48000 {
		return fmt.Errorf("target_sample_rate must be between 8000 and 48000 Hz, got %d", a.TargetSampleRate)
	}

	if a.TargetChannels < 1 || a.TargetChannels > 2 {
		return fmt.Errorf("target_channels must be 1 or 2, got %d", a.TargetChannels)
	}

	if a.ChunkDuration < 1 {
		return fmt.Errorf("chunk_duration must be positive, got %d", a.ChunkDuration)
	}

	if a.ChunkOverlap < 0 || a.ChunkOverlap >= a.ChunkDuration {
		return fmt.Errorf("chunk_overlap (%d) must be in [0, chunk_duration (%d))",
			a.ChunkOverlap, a.ChunkDuration)
	}

	if a.ChunkThreshold < 1 {
		return fmt.Errorf("chunk_threshold must be positive, got %d", a.ChunkThreshold)
	}

	if a.FFmpegPath == "" || a.FFprobePath == "" {
		return fmt.Errorf("ffmpeg_path and ffprobe_path cannot be empty")
	}

	return nil
}

// Validate validates OCR configuration
func (o *OCRConfig) Validate() error {
	if o.BaseURL == "" {
		return nil
	}

	if err := validateURL(o.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}

	if o.Model == "" {
		return fmt.Errorf("model cannot be empty when OCR is enabled")
	}

	if o.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", o.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output may be stdout, stderr or a file path
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL '%s': %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https, got '%s'", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host, got '%s'", raw)
	}
	return nil
}

// GetReadTimeout returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetMaxUploadBytes returns the upload size cap in bytes
func (h *HTTPConfig) GetMaxUploadBytes() int64 {
	return int64(h.MaxUploadSizeMB) << 20
}

// GetTimeoutDuration returns the retrieval timeout as a time.Duration
func (h *HiRAGConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(h.Timeout) * time.Second
}

// GetTimeoutDuration returns the LLM timeout as a time.Duration
func (l *LLMConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (w *WhisperConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}

// GetChunkDuration returns the audio chunk length as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration) * time.Second
}

// GetChunkOverlap returns the audio chunk overlap as a time.Duration
func (a *AudioConfig) GetChunkOverlap() time.Duration {
	return time.Duration(a.ChunkOverlap) * time.Second
}

// GetChunkThreshold returns the duration above which uploads are chunked
func (a *AudioConfig) GetChunkThreshold() time.Duration {
	return time.Duration(a.ChunkThreshold) * time.Second
}

// GetTimeoutDuration returns the OCR timeout as a time.Duration
func (o *OCRConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Second
}
