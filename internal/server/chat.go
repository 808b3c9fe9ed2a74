package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GuyNachshon/hirag/internal/chat"
	"github.com/GuyNachshon/hirag/internal/rag"
)

type createSessionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createSessionResponse struct {
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type messageRequest struct {
	Content        string `json:"content"`
	IncludeContext *bool  `json:"include_context"`
}

type historyResponse struct {
	SessionID     string         `json:"session_id"`
	Messages      []chat.Message `json:"messages"`
	TotalMessages int            `json:"total_messages"`
}

type uploadResponse struct {
	FileID           string    `json:"file_id"`
	Filename         string    `json:"filename"`
	FileSize         int64     `json:"file_size"`
	UploadTime       time.Time `json:"upload_time"`
	ProcessingStatus string    `json:"processing_status"`
	Message          string    `json:"message"`
}

func sessionNotFound() *APIError {
	return notFound("session_not_found", "Session not found")
}

// decodeJSON decodes an optional JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) *APIError {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return validationError(http.StatusBadRequest, "invalid_request", "Invalid JSON body: "+err.Error())
}

func (h *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	session := h.deps.Store.Create(req.Name, req.Description)
	h.updateSessionGauge()

	h.logger.Info("Chat session created",
		slog.String("session_id", session.SessionID),
		slog.String("name", session.Name))

	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID:   session.SessionID,
		Name:        session.Name,
		Description: session.Description,
		CreatedAt:   session.CreatedAt,
	})
}

func (h *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.deps.Store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, sessionNotFound())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *HTTPServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.deps.Store.Delete(id) {
		writeError(w, sessionNotFound())
		return
	}
	h.updateSessionGauge()

	h.logger.Info("Chat session deleted", slog.String("session_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

func (h *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.deps.Store.Get(id); !ok {
		writeError(w, sessionNotFound())
		return
	}
	messages := h.deps.Store.Messages(id)
	writeJSON(w, http.StatusOK, historyResponse{
		SessionID:     id,
		Messages:      messages,
		TotalMessages: len(messages),
	})
}

// handleMessage stores the user turn, generates a reply and stores it as the assistant turn
func (h *HTTPServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req messageRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, validationError(http.StatusBadRequest, "missing_content", "Message content is required"))
		return
	}
	includeContext := req.IncludeContext == nil || *req.IncludeContext

	if h.deps.Generator == nil {
		writeError(w, unavailable("Chat service not available"))
		return
	}
	if _, ok := h.deps.Store.Get(id); !ok {
		writeError(w, sessionNotFound())
		return
	}

	if _, ok := h.deps.Store.AddMessage(id, chat.RoleUser, req.Content, nil); !ok {
		writeError(w, sessionNotFound())
		return
	}
	h.recordMessage(chat.RoleUser)

	// History excludes the message just added
	history := h.deps.Store.Messages(id)
	if len(history) > 0 {
		history = history[:len(history)-1]
	}

	var resp rag.Response
	if includeContext {
		resp = h.deps.Generator.Generate(r.Context(), id, req.Content, history)
	} else {
		resp = h.deps.Generator.Direct(r.Context(), req.Content, history)
	}

	stored, ok := h.deps.Store.AddMessage(id, chat.RoleAssistant, resp.Content, resp.ContextSources)
	if !ok {
		// Session deleted while the reply was generated
		writeError(w, sessionNotFound())
		return
	}
	h.recordMessage(chat.RoleAssistant)

	resp.MessageID = stored.MessageID
	resp.Timestamp = stored.Timestamp
	writeJSON(w, http.StatusOK, resp)
}

// handleChatUpload accepts a file for a session. Indexing the file into the
// knowledge base is not wired yet; the upload is acknowledged and discarded.
func (h *HTTPServer) handleChatUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, ok := h.deps.Store.Get(id)
	if !ok {
		writeError(w, sessionNotFound())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())
	file, header, apiErr := formFile(r, "file")
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	defer file.Close()

	writeJSON(w, http.StatusOK, uploadResponse{
		FileID:           uuid.NewString(),
		Filename:         header.Filename,
		FileSize:         header.Size,
		UploadTime:       session.LastActivity,
		ProcessingStatus: "uploaded",
		Message:          "File uploaded successfully. Processing integration with RAG system is pending implementation.",
	})
}

func (h *HTTPServer) handleChatHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Generator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"service": "chat",
			"error":   "Chat service not available",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"service":         "chat",
		"active_sessions": h.deps.Store.Count(),
		"rag_available":   h.deps.Generator.HasRetriever(),
	})
}

func (h *HTTPServer) updateSessionGauge() {
	if h.metrics != nil {
		h.metrics.SetActiveSessions(h.deps.Store.Count())
	}
}

func (h *HTTPServer) recordMessage(role chat.Role) {
	if h.metrics != nil {
		h.metrics.RecordMessageStored(string(role))
	}
}
