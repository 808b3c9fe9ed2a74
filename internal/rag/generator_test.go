package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/GuyNachshon/hirag/internal/chat"
	"github.com/GuyNachshon/hirag/internal/metrics"
)

func TestGenerateUsesRetrievedContext(t *testing.T) {
	retriever := &fakeRetriever{chunks: []Chunk{
		{Content: "Tel Aviv is on the coast.", FullDocID: "/docs/geo.pdf", Score: 0.9},
		{Content: "It was founded in 1909.", FullDocID: "/docs/history.md", Score: 0.8},
		{Content: "Population grew quickly.", FullDocID: "/docs/geo.pdf", Score: 0.7},
	}}
	completer := &fakeCompleter{reply: "Tel Aviv is a coastal city."}
	gen := NewGenerator(retriever, completer, GeneratorConfig{}, testLogger(), nil)

	history := []chat.Message{{Role: chat.RoleUser, Content: "Hello"}}
	resp := gen.Generate(context.Background(), "s1", "Tell me about Tel Aviv", history)

	if resp.Content != "Tel Aviv is a coastal city." {
		t.Errorf("Expected model reply, got %q", resp.Content)
	}
	if len(resp.ContextSources) != 2 || resp.ContextSources[0] != "/docs/geo.pdf" {
		t.Errorf("Expected 2 deduplicated sources, got %v", resp.ContextSources)
	}
	if resp.MessageID == "" {
		t.Error("Expected message id to be set")
	}
	if retriever.mode != ModeHierarchical || retriever.topK != 5 {
		t.Errorf("Expected mode hi top_k 5, got %s/%d", retriever.mode, retriever.topK)
	}

	if completer.params.Temperature != 0.7 || completer.params.MaxTokens != 2048 {
		t.Errorf("Expected sampling 0.7/2048, got %v/%d", completer.params.Temperature, completer.params.MaxTokens)
	}
	if len(completer.messages) != 1 || completer.messages[0].Role != "user" {
		t.Fatalf("Expected a single user message, got %+v", completer.messages)
	}
	prompt := completer.prompt()
	if !strings.Contains(prompt, "Relevant Context:\nTel Aviv is on the coast.\n\n") {
		t.Errorf("Expected context in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "Human: Hello") {
		t.Errorf("Expected history in prompt, got %q", prompt)
	}
}

func TestGenerateRetrievalFailureApologises(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("sidecar unreachable")}
	completer := &fakeCompleter{reply: "unused"}
	gen := NewGenerator(retriever, completer, GeneratorConfig{}, testLogger(), nil)

	resp := gen.Generate(context.Background(), "s1", "question", nil)

	want := "I apologize, but I encountered an error processing your request: sidecar unreachable"
	if resp.Content != want {
		t.Errorf("Expected %q, got %q", want, resp.Content)
	}
	if resp.ContextSources == nil || len(resp.ContextSources) != 0 {
		t.Errorf("Expected empty non-nil sources, got %#v", resp.ContextSources)
	}
	if completer.messages != nil {
		t.Error("Expected no model call after retrieval failure")
	}
}

func TestGenerateModelFailureApologises(t *testing.T) {
	retriever := &fakeRetriever{chunks: []Chunk{{Content: "x", FullDocID: "/d"}}}
	completer := &fakeCompleter{err: errors.New("model overloaded")}
	gen := NewGenerator(retriever, completer, GeneratorConfig{}, testLogger(), nil)

	resp := gen.Generate(context.Background(), "s1", "question", nil)
	if !strings.HasSuffix(resp.Content, "model overloaded") {
		t.Errorf("Expected apology naming the error, got %q", resp.Content)
	}
	if len(resp.ContextSources) != 0 {
		t.Errorf("Expected no sources on failure, got %v", resp.ContextSources)
	}
}

func TestGenerateWithoutRetrieverApologises(t *testing.T) {
	gen := NewGenerator(nil, &fakeCompleter{reply: "x"}, GeneratorConfig{}, testLogger(), nil)
	if gen.HasRetriever() {
		t.Error("Expected HasRetriever to be false")
	}
	resp := gen.Generate(context.Background(), "s1", "q", nil)
	if !strings.HasPrefix(resp.Content, "I apologize") {
		t.Errorf("Expected apology, got %q", resp.Content)
	}
}

func TestDirectSkipsRetrieval(t *testing.T) {
	retriever := &fakeRetriever{}
	completer := &fakeCompleter{reply: "direct answer"}
	gen := NewGenerator(retriever, completer, GeneratorConfig{}, testLogger(), nil)

	resp := gen.Direct(context.Background(), "hi", nil)

	if retriever.calls != 0 {
		t.Errorf("Expected no retrieval, got %d calls", retriever.calls)
	}
	if resp.Content != "direct answer" {
		t.Errorf("Expected direct answer, got %q", resp.Content)
	}
	if resp.ContextSources != nil {
		t.Errorf("Expected nil sources, got %v", resp.ContextSources)
	}
	if strings.Contains(completer.prompt(), "Relevant Context") {
		t.Error("Expected no context block in direct prompt")
	}
}

func TestDirectFailureKeepsNilSources(t *testing.T) {
	gen := NewGenerator(nil, &fakeCompleter{err: errors.New("down")}, GeneratorConfig{}, testLogger(), nil)
	resp := gen.Direct(context.Background(), "hi", nil)
	if resp.ContextSources != nil {
		t.Errorf("Expected nil sources, got %v", resp.ContextSources)
	}
	if !strings.HasSuffix(resp.Content, ": down") {
		t.Errorf("Expected apology, got %q", resp.Content)
	}
}

func TestGenerateRecordsMetrics(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	gen := NewGenerator(&fakeRetriever{err: errors.New("x")}, &fakeCompleter{reply: "ok"},
		GeneratorConfig{}, testLogger(), m)

	gen.Generate(context.Background(), "s", "q", nil)
	gen.Direct(context.Background(), "q", nil)

	if got := testutil.ToFloat64(m.RAGGenerations.WithLabelValues("context", "error")); got != 1 {
		t.Errorf("Expected 1 context error, got %v", got)
	}
	if got := testutil.ToFloat64(m.RAGGenerations.WithLabelValues("direct", "success")); got != 1 {
		t.Errorf("Expected 1 direct success, got %v", got)
	}
}
