package transform

import (
	"context"
	"sync"

	"github.com/chatlift/skypeetl/pkg/export"
)

// chunkResult is the output of one processed chunk: transformed messages in
// input order plus the users seen while processing.
type chunkResult struct {
	messages []export.Message
	users    map[string]*export.User
}

type chunkJob struct {
	index    int
	messages []*export.RawMessage
}

// processChunks runs fn over every chunk with a bounded worker pool.
// Submission blocks while all workers are busy; cancellation stops new
// submissions and drains in-flight chunks. Results are indexed by chunk so
// completion order never affects output order.
func processChunks(
	ctx context.Context,
	chunks [][]*export.RawMessage,
	workers int,
	fn func(chunk []*export.RawMessage) chunkResult,
	onChunkDone func(messages int),
) ([]chunkResult, error) {
	results := make([]chunkResult, len(chunks))
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan chunkJob)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results[job.index] = fn(job.messages)
				onChunkDone(len(job.messages))
			}
		}()
	}

	var cancelled error
submit:
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break submit
		case jobs <- chunkJob{index: i, messages: chunk}:
		}
	}
	close(jobs)
	wg.Wait()

	return results, cancelled
}

// chunkMessages splits a message list into slices of at most size.
func chunkMessages(messages []*export.RawMessage, size int) [][]*export.RawMessage {
	if size < 1 {
		size = 1
	}
	var chunks [][]*export.RawMessage
	for start := 0; start < len(messages); start += size {
		end := min(start+size, len(messages))
		chunks = append(chunks, messages[start:end])
	}
	return chunks
}
