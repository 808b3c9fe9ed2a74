package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/GuyNachshon/hirag/internal/chat"
)

func TestBuildPromptWithoutContextOrHistory(t *testing.T) {
	got := BuildPrompt("What is HiRAG?", "", nil)
	want := systemInstruction + "\n\n\nHuman: What is HiRAG?\n\n\nAssistant:"
	if got != want {
		t.Errorf("Unexpected prompt:\n%q\nwant:\n%q", got, want)
	}
	if strings.Contains(got, "Relevant Context") {
		t.Error("Expected no context block for empty context")
	}
}

func TestBuildPromptWhitespaceContextIsOmitted(t *testing.T) {
	if got := BuildPrompt("hi", " \n\t ", nil); strings.Contains(got, "Relevant Context") {
		t.Error("Expected whitespace-only context to be omitted")
	}
}

func TestBuildPromptWithContext(t *testing.T) {
	got := BuildPrompt("q", "doc one\n\n", nil)
	if !strings.Contains(got, "\n\n\nRelevant Context:\ndoc one\n\n") {
		t.Errorf("Expected context block, got %q", got)
	}
	if !strings.HasSuffix(got, "\n\n\nAssistant:") {
		t.Errorf("Expected prompt to end with Assistant:, got %q", got)
	}
}

func TestBuildPromptHistoryWindow(t *testing.T) {
	var history []chat.Message
	for i := 0; i < 8; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		history = append(history, chat.Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}

	got := BuildPrompt("next", "", history)

	for i := 0; i < 3; i++ {
		if strings.Contains(got, fmt.Sprintf("m%d", i)) {
			t.Errorf("Expected message m%d to fall outside the history window", i)
		}
	}
	// m3 is an assistant turn, m4 a user turn
	if !strings.Contains(got, "Conversation History:\nAssistant: m3\nHuman: m4\nAssistant: m5\nHuman: m6\nAssistant: m7\n") {
		t.Errorf("Unexpected history rendering: %q", got)
	}
}

func TestBuildPromptSystemRoleRendersAsAssistant(t *testing.T) {
	got := BuildPrompt("q", "", []chat.Message{{Role: chat.RoleSystem, Content: "note"}})
	if !strings.Contains(got, "Assistant: note") {
		t.Errorf("Expected system message rendered as Assistant, got %q", got)
	}
}

func TestJoinContext(t *testing.T) {
	chunks := []Chunk{
		{Content: "a", FullDocID: "/docs/x.pdf"},
		{Content: "b", FullDocID: ""},
		{Content: "c", FullDocID: "/docs/y.txt"},
		{Content: "d", FullDocID: "/docs/x.pdf"},
	}
	text, sources := joinContext(chunks)

	if text != "a\n\nb\n\nc\n\nd\n\n" {
		t.Errorf("Unexpected context text %q", text)
	}
	if len(sources) != 2 || sources[0] != "/docs/x.pdf" || sources[1] != "/docs/y.txt" {
		t.Errorf("Expected deduplicated sources in order, got %v", sources)
	}
}
