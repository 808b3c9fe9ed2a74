package rag

import (
	"strings"

	"github.com/GuyNachshon/hirag/internal/chat"
)

const systemInstruction = "You are a helpful AI assistant with access to relevant documents and information. " +
	"Use the provided context to answer questions accurately and helpfully. " +
	"If the context doesn't contain relevant information, say so clearly."

// historyWindow is how many prior messages are rendered into the prompt
const historyWindow = 5

// BuildPrompt assembles the single-turn prompt sent to the model: the system
// instruction, retrieved context when present, the tail of the conversation
// and the new user message.
func BuildPrompt(userMessage, context string, history []chat.Message) string {
	parts := []string{systemInstruction}

	if strings.TrimSpace(context) != "" {
		parts = append(parts, "\n\nRelevant Context:\n"+context)
	}

	if len(history) > 0 {
		parts = append(parts, "\n\nConversation History:")
		if len(history) > historyWindow {
			history = history[len(history)-historyWindow:]
		}
		for _, msg := range history {
			role := "Assistant"
			if msg.Role == chat.RoleUser {
				role = "Human"
			}
			parts = append(parts, role+": "+msg.Content)
		}
	}

	parts = append(parts, "\n\nHuman: "+userMessage, "\n\nAssistant:")
	return strings.Join(parts, "\n")
}

// joinContext concatenates chunk contents and collects distinct source ids in first-seen order
func joinContext(chunks []Chunk) (string, []string) {
	var sb strings.Builder
	sources := []string{}
	seen := make(map[string]bool)

	for _, c := range chunks {
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")
		if c.FullDocID != "" && !seen[c.FullDocID] {
			seen[c.FullDocID] = true
			sources = append(sources, c.FullDocID)
		}
	}
	return sb.String(), sources
}
