package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// ModeHierarchical queries the knowledge graph and chunk index together
	ModeHierarchical = "hi"
	// ModeNaive is plain vector search over chunks
	ModeNaive = "naive"
)

// Chunk is one ranked passage returned by the retrieval engine
type Chunk struct {
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
	FullDocID string  `json:"full_doc_id"`
}

// Retriever queries a knowledge base for ranked passages
type Retriever interface {
	Query(ctx context.Context, text, mode string, topK int) ([]Chunk, error)
}

// HTTPRetriever queries the HiRAG sidecar over HTTP
type HTTPRetriever struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRetriever creates a retriever for the sidecar at baseURL
func NewHTTPRetriever(baseURL string, timeout time.Duration) (*HTTPRetriever, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("retriever base URL cannot be empty")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPRetriever{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the sidecar address
func (r *HTTPRetriever) BaseURL() string {
	return r.baseURL
}

// Query posts {"query","mode","top_k"} to /query and returns the ranked chunks
func (r *HTTPRetriever) Query(ctx context.Context, text, mode string, topK int) ([]Chunk, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query": text,
		"mode":  mode,
		"top_k": topK,
	})
	if err != nil {
		return nil, fmt.Errorf("retriever: failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("retriever: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retriever: query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("retriever: query returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var result struct {
		Chunks []Chunk `json:"chunks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("retriever: failed to decode response: %w", err)
	}
	return result.Chunks, nil
}

// Health checks GET /health on the sidecar
func (r *HTTPRetriever) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("retriever: failed to create health request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("retriever: health request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("retriever: health returned status %d", resp.StatusCode)
	}
	return nil
}
