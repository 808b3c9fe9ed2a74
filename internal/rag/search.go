package rag

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GuyNachshon/hirag/internal/logging"
	"github.com/GuyNachshon/hirag/internal/metrics"
)

const summaryLen = 200

// FileResult is one document matched by a search
type FileResult struct {
	FilePath       string    `json:"file_path"`
	Filename       string    `json:"filename"`
	RelevanceScore float64   `json:"relevance_score"`
	FileType       string    `json:"file_type"`
	FileSize       int64     `json:"file_size"`
	LastModified   time.Time `json:"last_modified"`
	Summary        string    `json:"summary"`
}

// SearchResponse is the outcome of a file search
type SearchResponse struct {
	Query          string       `json:"query"`
	Results        []FileResult `json:"results"`
	TotalResults   int          `json:"total_results"`
	ProcessingTime float64      `json:"processing_time"`
}

// Searcher maps retrieved chunks back to the files they came from
type Searcher struct {
	retriever Retriever
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewSearcher creates a file search service
func NewSearcher(retriever Retriever, logger *slog.Logger, m *metrics.Metrics) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{retriever: retriever, logger: logger, metrics: m}
}

// Search returns up to limit distinct existing files relevant to query.
// fileTypes, when non-empty, restricts results by extension. A failed query
// yields an empty response rather than an error.
func (s *Searcher) Search(ctx context.Context, query string, limit int, fileTypes []string) SearchResponse {
	start := time.Now()
	resp := SearchResponse{Query: query, Results: []FileResult{}}

	chunks, err := s.retriever.Query(ctx, query, ModeNaive, 2*limit)
	if err != nil {
		logging.Error(s.logger, "file_search", err, slog.String("query", query))
		resp.ProcessingTime = time.Since(start).Seconds()
		s.record("error", 0)
		return resp
	}

	allowed := normalizeExtensions(fileTypes)
	seen := make(map[string]bool)

	for _, c := range chunks {
		if len(resp.Results) >= limit {
			break
		}
		if c.FullDocID == "" || seen[c.FullDocID] {
			continue
		}
		seen[c.FullDocID] = true

		info, err := os.Stat(c.FullDocID)
		if err != nil || info.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(c.FullDocID))
		if len(allowed) > 0 && !allowed[ext] {
			continue
		}

		resp.Results = append(resp.Results, FileResult{
			FilePath:       c.FullDocID,
			Filename:       filepath.Base(c.FullDocID),
			RelevanceScore: c.Score,
			FileType:       ext,
			FileSize:       info.Size(),
			LastModified:   info.ModTime(),
			Summary:        logging.Preview(c.Content, summaryLen),
		})
	}

	resp.TotalResults = len(resp.Results)
	elapsed := time.Since(start)
	resp.ProcessingTime = elapsed.Seconds()

	logging.Performance(s.logger, "file_search", elapsed,
		slog.String("query", logging.Preview(query, messagePreviewLen)),
		slog.Int("results_count", resp.TotalResults),
	)
	s.record("success", resp.TotalResults)
	return resp
}

func (s *Searcher) record(outcome string, results int) {
	if s.metrics != nil {
		s.metrics.RecordSearch(outcome, results)
	}
}

// normalizeExtensions lower-cases extensions and ensures a leading dot
func normalizeExtensions(types []string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, ".") {
			t = "." + t
		}
		out[t] = true
	}
	return out
}
