// Package server implements the HTTP API of the gateway: chat sessions, file
// search, transcription, audio conversion and document OCR, plus health,
// configuration, statistics and Prometheus endpoints.
//
// Handlers validate input before allocating anything, stage uploads in
// request-scoped temp files and map failures onto a small error taxonomy
// (validation, upstream_unavailable, upstream_failure, internal).
package server
