package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GuyNachshon/hirag/internal/llm"
	"github.com/GuyNachshon/hirag/internal/logging"
	"github.com/GuyNachshon/hirag/internal/metrics"
)

// Prompt modes understood by the layout model
const (
	ModeLayoutAll  = "layout_all"
	ModeLayoutOnly = "layout_only"
	ModeOCROnly    = "ocr_only"
)

var prompts = map[string]string{
	ModeLayoutAll:  "Please parse this document image and extract the layout and content. Return the result in JSON format with bounding boxes and text content.",
	ModeLayoutOnly: "Please detect the layout elements in this document image. Return bounding boxes for all elements.",
	ModeOCROnly:    "Please extract all text content from this document image.",
}

var allowedExtensions = []string{".jpg", ".jpeg", ".png", ".pdf"}

// ErrUnsupportedFile is returned for documents outside the extension allow-list
var ErrUnsupportedFile = errors.New("unsupported file type")

const (
	temperature = 0.1
	topP        = 0.9
	maxTokens   = 4096
)

// Completer produces a model completion for a list of messages
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, params llm.Params) (string, error)
}

// Result is the parsed document. Content holds decoded JSON when the model
// answered with JSON, otherwise the raw text.
type Result struct {
	Content    interface{} `json:"content"`
	PromptMode string      `json:"prompt_mode"`
	Filename   string      `json:"filename"`
	Model      string      `json:"model"`
}

// Parser sends document images to a vision-language layout model
type Parser struct {
	llm     Completer
	model   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewParser creates a document parser
func NewParser(completer Completer, model string, logger *slog.Logger, m *metrics.Metrics) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{llm: completer, model: model, logger: logger, metrics: m}
}

// SupportedExtensions lists the accepted document extensions
func SupportedExtensions() []string {
	return append([]string(nil), allowedExtensions...)
}

// IsSupported reports whether filename has an accepted extension
func IsSupported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range allowedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Modes returns the accepted prompt modes
func Modes() []string {
	return []string{ModeLayoutAll, ModeLayoutOnly, ModeOCROnly}
}

// Parse reads the document at path and asks the model to parse it.
// Unknown modes fall back to layout_all.
func (p *Parser) Parse(ctx context.Context, path, filename, mode string) (*Result, error) {
	if !IsSupported(filename) {
		return nil, fmt.Errorf("%w: %s. Supported: %s", ErrUnsupportedFile,
			strings.ToLower(filepath.Ext(filename)), strings.Join(allowedExtensions, ", "))
	}
	prompt, ok := prompts[mode]
	if !ok {
		mode = ModeLayoutAll
		prompt = prompts[mode]
	}

	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	msg := llm.ImageMessage(prompt, dataURL(filename, data))
	content, err := p.llm.Complete(ctx, []llm.Message{msg},
		llm.Params{Temperature: temperature, TopP: topP, MaxTokens: maxTokens})
	if err != nil {
		p.record("error")
		return nil, fmt.Errorf("document parsing failed: %w", err)
	}

	logging.Performance(p.logger, "document_parse", time.Since(start),
		slog.String("filename", filename),
		slog.String("prompt_mode", mode),
		slog.Int("file_size", len(data)),
	)
	p.record("success")

	return &Result{
		Content:    decodeContent(content),
		PromptMode: mode,
		Filename:   filename,
		Model:      p.model,
	}, nil
}

// Health checks the model endpoint when the completer supports it
func (p *Parser) Health(ctx context.Context) error {
	if hc, ok := p.llm.(interface{ Health(context.Context) error }); ok {
		return hc.Health(ctx)
	}
	return nil
}

// Model returns the configured model name
func (p *Parser) Model() string {
	return p.model
}

func (p *Parser) record(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordOCR(outcome)
	}
}

// dataURL encodes data as a base64 data URL, typed by extension
func dataURL(filename string, data []byte) string {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// decodeContent returns parsed JSON when content looks like a JSON object or array
func decodeContent(content string) interface{} {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return content
	}
	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return content
	}
	return v
}
