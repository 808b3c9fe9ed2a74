package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GuyNachshon/hirag/internal/audio"
	"github.com/GuyNachshon/hirag/internal/chat"
	"github.com/GuyNachshon/hirag/internal/config"
	"github.com/GuyNachshon/hirag/internal/llm"
	"github.com/GuyNachshon/hirag/internal/logging"
	"github.com/GuyNachshon/hirag/internal/metrics"
	"github.com/GuyNachshon/hirag/internal/ocr"
	"github.com/GuyNachshon/hirag/internal/rag"
	"github.com/GuyNachshon/hirag/internal/server"
	"github.com/GuyNachshon/hirag/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "hirag-gateway"
	serviceVersion    = "1.0.0"
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(logging.ParseLevel(cfg.Logging.Level))
	logger, logCloser := logging.New(cfg.Logging, logLevel)
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("hirag_url", cfg.HiRAG.BaseURL),
		slog.String("llm_url", cfg.LLM.BaseURL),
		slog.String("llm_model", cfg.LLM.Model),
		slog.String("whisper_url", cfg.Whisper.BaseURL),
		slog.String("ocr_url", cfg.OCR.BaseURL),
		slog.Int("target_sample_rate", cfg.Audio.TargetSampleRate),
		slog.Int("target_channels", cfg.Audio.TargetChannels),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	deps, transcriber, err := buildDeps(cfg, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to initialize services", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := server.NewHTTPServer(deps)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if _, fromEnv := os.LookupEnv("LOG_LEVEL"); !fromEnv {
		if _, err := os.Stat(*configPath); err == nil {
			err := config.WatchLogLevel(watchCtx, *configPath, logger, func(level string) {
				logLevel.Set(logging.ParseLevel(level))
				logger.Info("Log level updated", slog.String("log_level", level))
			})
			if err != nil {
				logger.Warn("Log level reload disabled", slog.String("error", err.Error()))
			}
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first, then drain outbound transcriptions
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}
	if err := transcriber.Close(shutdownCtx); err != nil {
		logger.Error("Error draining transcription client", slog.String("error", err.Error()))
	}

	stats := transcriber.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
	)

	logger.Info("Service stopped")
}

// buildDeps constructs every service once. Retrieval and OCR are optional and
// left nil when their base URL is empty.
func buildDeps(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (server.Deps, *transcription.Client, error) {
	deps := server.Deps{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Store:   chat.NewStore(),
	}

	llmClient, err := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.GetTimeoutDuration(),
	}, logger)
	if err != nil {
		return deps, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	deps.LLM = llmClient

	var retriever rag.Retriever
	if cfg.HiRAG.BaseURL != "" {
		r, err := rag.NewHTTPRetriever(cfg.HiRAG.BaseURL, cfg.HiRAG.GetTimeoutDuration())
		if err != nil {
			return deps, nil, fmt.Errorf("failed to create retriever: %w", err)
		}
		retriever = r
		deps.Retriever = r
		deps.Searcher = rag.NewSearcher(r, logger, m)
		logger.Info("Retriever initialized", slog.String("url", r.BaseURL()))
	} else {
		logger.Warn("Retrieval disabled, chat answers will not use context")
	}

	mode := rag.ModeNaive
	if cfg.HiRAG.EnableHierarchicalMode {
		mode = rag.ModeHierarchical
	}
	deps.Generator = rag.NewGenerator(retriever, llmClient, rag.GeneratorConfig{
		Mode:        mode,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger, m)

	processor, err := audio.NewProcessor(cfg.Audio, nil, logger, m)
	if err != nil {
		return deps, nil, fmt.Errorf("failed to create audio processor: %w", err)
	}
	deps.Audio = processor

	transcriber, err := transcription.NewClient(transcription.Config{
		BaseURL:       cfg.Whisper.BaseURL,
		Timeout:       cfg.Whisper.GetTimeoutDuration(),
		MaxRetries:    cfg.Whisper.MaxRetries,
		MaxConcurrent: cfg.Whisper.MaxConcurrent,
		Language:      cfg.Whisper.Language,
	}, logger, m)
	if err != nil {
		return deps, nil, fmt.Errorf("failed to create transcription client: %w", err)
	}
	deps.Transcriber = transcriber
	logger.Info("Transcription client initialized",
		slog.String("url", transcriber.BaseURL()),
		slog.Duration("timeout", cfg.Whisper.GetTimeoutDuration()),
	)

	if cfg.OCR.BaseURL != "" {
		ocrClient, err := llm.NewClient(llm.Config{
			BaseURL: cfg.OCR.BaseURL,
			APIKey:  cfg.OCR.APIKey,
			Model:   cfg.OCR.Model,
			Timeout: cfg.OCR.GetTimeoutDuration(),
		}, logger)
		if err != nil {
			return deps, nil, fmt.Errorf("failed to create OCR client: %w", err)
		}
		deps.OCR = ocr.NewParser(ocrClient, cfg.OCR.Model, logger, m)
		logger.Info("OCR parser initialized", slog.String("url", cfg.OCR.BaseURL))
	}

	return deps, transcriber, nil
}
