// Package audio prepares uploaded recordings for speech-to-text.
// It decodes WAV natively, converts channel layout and sample rate, applies
// loudness normalisation, silence trimming and a speech high-pass, and falls
// back to ffmpeg for formats it cannot decode. Long recordings are split into
// overlapping chunks, and request-scoped temp files are tracked by TempFiles.
package audio
