// Package llm is a minimal client for OpenAI-compatible chat completions,
// used for both text prompts and image-plus-text document parsing.
package llm
