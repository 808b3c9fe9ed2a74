package rag

import (
	"context"
	"io"
	"log/slog"

	"github.com/GuyNachshon/hirag/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRetriever struct {
	chunks []Chunk
	err    error

	calls int
	mode  string
	topK  int
	query string
}

func (f *fakeRetriever) Query(ctx context.Context, text, mode string, topK int) ([]Chunk, error) {
	f.calls++
	f.query, f.mode, f.topK = text, mode, topK
	return f.chunks, f.err
}

type fakeCompleter struct {
	reply string
	err   error

	messages []llm.Message
	params   llm.Params
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
	f.messages, f.params = messages, params
	return f.reply, f.err
}

func (f *fakeCompleter) prompt() string {
	if len(f.messages) == 0 {
		return ""
	}
	s, _ := f.messages[0].Content.(string)
	return s
}
