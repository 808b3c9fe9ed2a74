// Package transcription implements the client for the Whisper speech-to-text service.
// It uploads audio as multipart form data, bounds concurrency with a semaphore,
// retries transient failures with exponential backoff, and reports failures as
// typed *Error values. Segment timing is normalised on the way in and per-chunk
// results of long recordings can be merged back into one result.
package transcription
