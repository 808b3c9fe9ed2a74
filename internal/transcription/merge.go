package transcription

import (
	"strings"
	"time"
)

// ChunkResult pairs one chunk's transcription with the chunk's offset in the recording
type ChunkResult struct {
	Index  int           `json:"chunk_index"`
	Start  time.Duration `json:"-"`
	Result *Result       `json:"transcription"`
}

// Merge combines per-chunk results into one result covering the whole recording.
// Segment times are shifted by each chunk's start offset.
func Merge(chunks []ChunkResult, language string) *Result {
	merged := &Result{Success: true, Language: language}

	var texts []string
	var segments []Segment
	var probSum float64
	probCount := 0

	for _, c := range chunks {
		if c.Result == nil {
			continue
		}
		offset := c.Start.Seconds()

		if t := strings.TrimSpace(c.Result.Text); t != "" {
			texts = append(texts, t)
		}
		for _, s := range c.Result.Segments {
			segments = append(segments, Segment{
				Start: s.Start + offset,
				End:   s.End + offset,
				Text:  s.Text,
			})
		}
		if end := offset + c.Result.Duration; end > merged.Duration {
			merged.Duration = end
		}
		if c.Result.LanguageProbability > 0 {
			probSum += c.Result.LanguageProbability
			probCount++
		}
		if merged.Language == "" && c.Result.Language != "" {
			merged.Language = c.Result.Language
		}
	}

	merged.Text = strings.Join(texts, " ")
	merged.Segments = NormalizeSegments(segments)
	if probCount > 0 {
		merged.LanguageProbability = probSum / float64(probCount)
	}
	if merged.Language == "" {
		merged.Language = DefaultLanguage
	}
	return merged
}
