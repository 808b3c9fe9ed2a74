package audio

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Chunk is one overlapping window of a longer recording, written as its own WAV file
type Chunk struct {
	Index int           `json:"index"`
	Path  string        `json:"path"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Span is a chunk boundary expressed in frames
type Span struct {
	Start int
	End   int
}

// ChunkCount returns ceil((total - overlap) / (chunk - overlap)), never less than one
func ChunkCount(total, chunk, overlap int) int {
	step := chunk - overlap
	if step <= 0 || total <= overlap {
		return 1
	}
	n := (total - overlap + step - 1) / step
	if n < 1 {
		n = 1
	}
	return n
}

// ChunkSpans splits total frames into windows of chunk frames that overlap by overlap frames.
// Window k starts at k*(chunk-overlap) and ends at min(start+chunk, total).
func ChunkSpans(total, chunk, overlap int) []Span {
	count := ChunkCount(total, chunk, overlap)
	step := chunk - overlap
	spans := make([]Span, 0, count)
	for k := 0; k < count; k++ {
		start := k * step
		end := start + chunk
		if end > total {
			end = total
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}

// NeedsChunking reports whether a recording of the given length should be split
func (p *Processor) NeedsChunking(duration float64) bool {
	return duration > p.config.GetChunkThreshold().Seconds()
}

// Chunk splits the WAV file at path into overlapping windows. Zero durations use the
// configured chunk length and overlap. The returned files live in the processor's
// temp directory and belong to the caller.
func (p *Processor) Chunk(ctx context.Context, path string, chunkDuration, overlap time.Duration) ([]Chunk, error) {
	if chunkDuration <= 0 {
		chunkDuration = p.config.GetChunkDuration()
	}
	if overlap <= 0 {
		overlap = p.config.GetChunkOverlap()
	}
	if overlap >= chunkDuration {
		return nil, fmt.Errorf("chunk overlap %v must be shorter than chunk duration %v", overlap, chunkDuration)
	}

	buf, _, err := ReadWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load audio for chunking: %w", err)
	}

	rate := buf.SampleRate
	chunkFrames := int(chunkDuration.Seconds() * float64(rate))
	overlapFrames := int(overlap.Seconds() * float64(rate))
	spans := ChunkSpans(buf.Len(), chunkFrames, overlapFrames)

	batch := uuid.NewString()
	chunks := make([]Chunk, 0, len(spans))
	for i, span := range spans {
		if err := ctx.Err(); err != nil {
			removeChunks(chunks)
			return nil, err
		}

		chunkPath := filepath.Join(p.tempDir, fmt.Sprintf("chunk_%s_%03d.wav", batch, i))
		if _, err := WriteWAVFile(chunkPath, buf.Slice(span.Start, span.End)); err != nil {
			removeChunks(chunks)
			return nil, fmt.Errorf("failed to export chunk %d: %w", i, err)
		}

		chunks = append(chunks, Chunk{
			Index: i,
			Path:  chunkPath,
			Start: framesToDuration(span.Start, rate),
			End:   framesToDuration(span.End, rate),
		})
	}

	p.logger.Info("Audio chunked",
		slog.String("file", filepath.Base(path)),
		slog.Int("chunks", len(chunks)),
		slog.Float64("duration_seconds", buf.Duration()))
	if p.metrics != nil {
		p.metrics.RecordChunksGenerated(len(chunks))
	}

	return chunks, nil
}

func removeChunks(chunks []Chunk) {
	t := NewTempFiles()
	for _, c := range chunks {
		t.Add(c.Path)
	}
	t.Cleanup()
}

func framesToDuration(frames, rate int) time.Duration {
	return time.Duration(float64(frames) / float64(rate) * float64(time.Second))
}
