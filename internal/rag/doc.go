// Package rag answers chat messages with retrieved context and maps retrieval
// hits back to files on disk.
//
// Retrieval is delegated to a HiRAG query sidecar through the Retriever
// interface; completions go through any Completer, normally *llm.Client.
package rag
