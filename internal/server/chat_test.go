package server

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/GuyNachshon/hirag/internal/chat"
	"github.com/GuyNachshon/hirag/internal/rag"
)

func createSession(t *testing.T, env *testEnv) string {
	t.Helper()
	rec := env.doJSON(t, http.MethodPost, "/api/chat/sessions", map[string]string{"name": "Research"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 creating session, got %d: %s", rec.Code, rec.Body.String())
	}
	var created createSessionResponse
	decodeBody(t, rec, &created)
	if created.SessionID == "" {
		t.Fatal("Expected session id")
	}
	return created.SessionID
}

func TestMessageWithoutContextStoresBothTurns(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)

	include := false
	rec := env.doJSON(t, http.MethodPost, "/api/chat/"+id+"/message",
		map[string]interface{}{"content": "Hello there", "include_context": include})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp rag.Response
	decodeBody(t, rec, &resp)
	if resp.Content != "Direct answer" {
		t.Errorf("Expected direct answer, got %q", resp.Content)
	}
	if resp.ContextSources != nil {
		t.Errorf("Expected null context_sources, got %v", resp.ContextSources)
	}

	rec = env.doJSON(t, http.MethodGet, "/api/chat/sessions/"+id+"/history", nil)
	var history historyResponse
	decodeBody(t, rec, &history)

	if history.TotalMessages != 2 || len(history.Messages) != 2 {
		t.Fatalf("Expected exactly 2 messages, got %d", len(history.Messages))
	}
	if history.Messages[0].Role != chat.RoleUser || history.Messages[0].Content != "Hello there" {
		t.Errorf("Expected user message first, got %+v", history.Messages[0])
	}
	if history.Messages[1].Role != chat.RoleAssistant || history.Messages[1].MessageID != resp.MessageID {
		t.Errorf("Expected stored assistant reply second, got %+v", history.Messages[1])
	}

	rec = env.doJSON(t, http.MethodGet, "/api/chat/sessions/"+id, nil)
	var session chat.Session
	decodeBody(t, rec, &session)
	if session.MessageCount != 2 {
		t.Errorf("Expected message_count 2, got %d", session.MessageCount)
	}
}

func TestMessageRetrievalFailureDegradesTo200(t *testing.T) {
	env := newTestEnv(t, withRetriever(&fakeRetriever{err: errors.New("index offline")}))
	id := createSession(t, env)

	rec := env.doJSON(t, http.MethodPost, "/api/chat/"+id+"/message", map[string]string{"content": "What changed?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on retrieval failure, got %d", rec.Code)
	}

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	content, _ := body["content"].(string)
	if !strings.HasPrefix(content, "I apologize, but I encountered an error processing your request:") {
		t.Errorf("Expected apology, got %q", content)
	}
	sources, ok := body["context_sources"].([]interface{})
	if !ok || len(sources) != 0 {
		t.Errorf("Expected empty context_sources list, got %#v", body["context_sources"])
	}
}

func TestMessageWithContextReturnsSources(t *testing.T) {
	env := newTestEnv(t, withRetriever(&fakeRetriever{chunks: []rag.Chunk{
		{Content: "alpha", FullDocID: "/docs/a.pdf"},
		{Content: "beta", FullDocID: "/docs/a.pdf"},
	}}))
	id := createSession(t, env)

	rec := env.doJSON(t, http.MethodPost, "/api/chat/"+id+"/message", map[string]string{"content": "q"})
	var resp rag.Response
	decodeBody(t, rec, &resp)
	if len(resp.ContextSources) != 1 || resp.ContextSources[0] != "/docs/a.pdf" {
		t.Errorf("Expected one source, got %v", resp.ContextSources)
	}

	history := env.server.deps.Store.Messages(id)
	if len(history) != 2 || len(history[1].ContextUsed) != 1 {
		t.Errorf("Expected assistant message to record context, got %+v", history)
	}
}

func TestMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)

	tests := []struct {
		name       string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"unknown session", "/api/chat/nope/message", map[string]string{"content": "hi"}, http.StatusNotFound, "session_not_found"},
		{"empty content", "/api/chat/" + id + "/message", map[string]string{"content": "  "}, http.StatusBadRequest, "missing_content"},
		{"bad json", "/api/chat/" + id + "/message", "not an object", http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			var body errorBody
			decodeBody(t, rec, &body)
			if body.Error != tt.wantCode {
				t.Errorf("Expected error code %s, got %s", tt.wantCode, body.Error)
			}
		})
	}

	if got := env.server.deps.Store.Messages(id); len(got) != 0 {
		t.Errorf("Expected no messages stored by rejected requests, got %d", len(got))
	}
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)

	if rec := env.doJSON(t, http.MethodDelete, "/api/chat/sessions/"+id, nil); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 deleting session, got %d", rec.Code)
	}
	if rec := env.doJSON(t, http.MethodGet, "/api/chat/sessions/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
	if rec := env.doJSON(t, http.MethodDelete, "/api/chat/sessions/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 deleting twice, got %d", rec.Code)
	}
	if rec := env.doJSON(t, http.MethodGet, "/api/chat/sessions/"+id+"/history", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 history after delete, got %d", rec.Code)
	}
}

func TestCreateSessionWithoutBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodPost, "/api/chat/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var created createSessionResponse
	decodeBody(t, rec, &created)
	if created.Name != "Chat Session 1" {
		t.Errorf("Expected default name, got %q", created.Name)
	}
}

func TestChatUploadPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)

	req := multipartRequest(t, "/api/chat/"+id+"/upload",
		[]filePart{{field: "file", filename: "notes.txt", data: []byte("hello")}}, nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	decodeBody(t, rec, &resp)
	if resp.Filename != "notes.txt" || resp.FileSize != 5 || resp.ProcessingStatus != "uploaded" {
		t.Errorf("Unexpected upload response %+v", resp)
	}

	req = multipartRequest(t, "/api/chat/missing/upload",
		[]filePart{{field: "file", filename: "notes.txt", data: []byte("x")}}, nil)
	if rec := env.do(t, req); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestChatHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodGet, "/api/chat/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	env.server.deps.Generator = nil
	rec = env.doJSON(t, http.MethodGet, "/api/chat/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without generator, got %d", rec.Code)
	}
}
