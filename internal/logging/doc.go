// Package logging builds the structured slog logger used by every component and
// provides helpers for the access, error, performance and RAG log channels.
package logging
