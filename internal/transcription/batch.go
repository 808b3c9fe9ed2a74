package transcription

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchItem is one file of a batch request
type BatchItem struct {
	Path     string
	Filename string
}

// BatchResult is the independent outcome for one batch item
type BatchResult struct {
	Filename string
	Result   *Result
	Err      error
}

// TranscribeBatch transcribes every item with at most parallel uploads in flight.
// One failure never affects the others; results keep input order.
func (c *Client) TranscribeBatch(ctx context.Context, items []BatchItem, parallel int, opts Options) []BatchResult {
	if parallel <= 0 {
		parallel = 1
	}

	results := make([]BatchResult, len(items))
	var g errgroup.Group
	g.SetLimit(parallel)

	for i, item := range items {
		g.Go(func() error {
			res, err := c.Transcribe(ctx, item.Path, item.Filename, opts)
			results[i] = BatchResult{Filename: item.Filename, Result: res, Err: err}
			return nil
		})
	}
	g.Wait()

	return results
}
