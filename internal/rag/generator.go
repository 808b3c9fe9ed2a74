package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/GuyNachshon/hirag/internal/chat"
	"github.com/GuyNachshon/hirag/internal/llm"
	"github.com/GuyNachshon/hirag/internal/logging"
	"github.com/GuyNachshon/hirag/internal/metrics"
)

const (
	defaultTopK        = 5
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048
	messagePreviewLen  = 100
)

// Completer produces a model completion for a list of messages
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, params llm.Params) (string, error)
}

// Response is the assistant turn produced for one user message
type Response struct {
	MessageID      string    `json:"message_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	ContextSources []string  `json:"context_sources"`
	ProcessingTime float64   `json:"processing_time"`
}

// GeneratorConfig tunes retrieval and sampling
type GeneratorConfig struct {
	Mode        string
	TopK        int
	Temperature float64
	MaxTokens   int
}

// Generator answers chat messages, optionally grounded in retrieved context
type Generator struct {
	retriever Retriever
	llm       Completer
	config    GeneratorConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewGenerator creates a generator. retriever may be nil, in which case only
// Direct answers are possible and Generate degrades to an apology.
func NewGenerator(retriever Retriever, completer Completer, config GeneratorConfig, logger *slog.Logger, m *metrics.Metrics) *Generator {
	if config.Mode == "" {
		config.Mode = ModeHierarchical
	}
	if config.TopK <= 0 {
		config.TopK = defaultTopK
	}
	if config.Temperature <= 0 {
		config.Temperature = defaultTemperature
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		retriever: retriever,
		llm:       completer,
		config:    config,
		logger:    logger,
		metrics:   m,
	}
}

// HasRetriever reports whether context retrieval is configured
func (g *Generator) HasRetriever() bool {
	return g.retriever != nil
}

// Generate retrieves context for userMessage, prompts the model and returns the reply.
// It never fails: any error becomes an apology with no sources.
func (g *Generator) Generate(ctx context.Context, sessionID, userMessage string, history []chat.Message) Response {
	start := time.Now()

	logging.RAG(g.logger, "rag_request",
		slog.String("session_id", sessionID),
		slog.String("message_preview", logging.Preview(userMessage, messagePreviewLen)),
		slog.Int("history_length", len(history)),
	)

	content, sources, err := g.generate(ctx, userMessage, history)
	elapsed := time.Since(start)

	if err != nil {
		logging.Error(g.logger, "rag_generation", err, slog.String("session_id", sessionID))
		g.record("context", "error", elapsed, 0)
		return apology(err, []string{}, elapsed)
	}

	logging.RAG(g.logger, "rag_response",
		slog.String("session_id", sessionID),
		slog.Int("response_length", len(content)),
		slog.Int("context_sources", len(sources)),
		slog.Float64("processing_time", elapsed.Seconds()),
	)
	logging.Performance(g.logger, "rag_generation", elapsed,
		slog.String("session_id", sessionID),
		slog.Int("sources", len(sources)),
	)
	g.record("context", "success", elapsed, len(sources))

	return Response{
		MessageID:      uuid.NewString(),
		Content:        content,
		Timestamp:      time.Now(),
		ContextSources: sources,
		ProcessingTime: elapsed.Seconds(),
	}
}

// Direct answers without retrieval. Sources are always nil.
func (g *Generator) Direct(ctx context.Context, userMessage string, history []chat.Message) Response {
	start := time.Now()

	content, err := g.complete(ctx, BuildPrompt(userMessage, "", history))
	elapsed := time.Since(start)

	if err != nil {
		logging.Error(g.logger, "direct_generation", err)
		g.record("direct", "error", elapsed, 0)
		return apology(err, nil, elapsed)
	}

	logging.Performance(g.logger, "direct_generation", elapsed,
		slog.Int("response_length", len(content)),
	)
	g.record("direct", "success", elapsed, 0)

	return Response{
		MessageID:      uuid.NewString(),
		Content:        content,
		Timestamp:      time.Now(),
		ProcessingTime: elapsed.Seconds(),
	}
}

func (g *Generator) generate(ctx context.Context, userMessage string, history []chat.Message) (string, []string, error) {
	if g.retriever == nil {
		return "", nil, fmt.Errorf("retrieval is not configured")
	}

	chunks, err := g.retriever.Query(ctx, userMessage, g.config.Mode, g.config.TopK)
	if err != nil {
		return "", nil, err
	}
	retrieved, sources := joinContext(chunks)

	content, err := g.complete(ctx, BuildPrompt(userMessage, retrieved, history))
	if err != nil {
		return "", nil, err
	}
	return content, sources, nil
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	if g.llm == nil {
		return "", fmt.Errorf("language model is not configured")
	}
	return g.llm.Complete(ctx,
		[]llm.Message{llm.TextMessage("user", prompt)},
		llm.Params{Temperature: g.config.Temperature, MaxTokens: g.config.MaxTokens},
	)
}

func (g *Generator) record(mode, outcome string, elapsed time.Duration, sources int) {
	if g.metrics != nil {
		g.metrics.RecordGeneration(mode, outcome, elapsed.Seconds(), sources)
	}
}

func apology(err error, sources []string, elapsed time.Duration) Response {
	return Response{
		MessageID:      uuid.NewString(),
		Content:        "I apologize, but I encountered an error processing your request: " + err.Error(),
		Timestamp:      time.Now(),
		ContextSources: sources,
		ProcessingTime: elapsed.Seconds(),
	}
}
