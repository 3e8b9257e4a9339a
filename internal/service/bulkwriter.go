package service

import (
	"context"
)

// WriteFunc commits one chunk atomically.
type WriteFunc[T any] func(ctx context.Context, rows []T) error

// RowFailure is a row that failed even when written alone.
type RowFailure struct {
	Key    string
	Reason string
	Err    error
}

// WriteResult summarizes one Write call.
type WriteResult struct {
	Written  int
	Chunks   int
	Retries  int
	Failures []RowFailure
}

// BulkWriter writes rows in chunks. A failing chunk is split into smaller
// chunks that are retried in place, down to MinChunk rows. A failing chunk
// of MinChunk rows gets one last pass row by row, so only the rows that fail
// alone are reported.
type BulkWriter[T any] struct {
	ChunkSize    int
	ShrinkFactor int
	MinChunk     int
	Key          func(T) string
}

// NewBulkWriter creates a writer with the given settings; zero values take
// the defaults of 2000 rows, a shrink factor of 10 and a minimum of 1.
func NewBulkWriter[T any](chunkSize, shrinkFactor, minChunk int, key func(T) string) *BulkWriter[T] {
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	if shrinkFactor < 2 {
		shrinkFactor = 10
	}
	if minChunk <= 0 {
		minChunk = 1
	}
	if minChunk > chunkSize {
		minChunk = chunkSize
	}
	return &BulkWriter[T]{ChunkSize: chunkSize, ShrinkFactor: shrinkFactor, MinChunk: minChunk, Key: key}
}

// Write commits rows through write. onCommit, if set, is called after every
// successful chunk with that chunk's rows. Cancellation is checked between
// chunks; a cancelled write returns the context error with the partial result.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rows: rows to write, in order.
//   - write: commits one chunk.
//   - onCommit: observer of committed chunks; may be nil.
// Returns:
//   - WriteResult: committed count and per-row failures.
//   - error: only the context error; row failures are in the result.
func (w *BulkWriter[T]) Write(ctx context.Context, rows []T, write WriteFunc[T], onCommit func(committed []T)) (WriteResult, error) {
	var res WriteResult
	queue := split(rows, w.ChunkSize)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		chunk := queue[0]
		queue = queue[1:]

		err := write(ctx, chunk)
		res.Chunks++
		if err == nil {
			res.Written += len(chunk)
			if onCommit != nil {
				onCommit(chunk)
			}
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}

		if len(chunk) == 1 {
			row := chunk[0]
			res.Failures = append(res.Failures, RowFailure{Key: w.key(row), Reason: err.Error(), Err: err})
			continue
		}

		size := 1
		if len(chunk) > w.MinChunk {
			size = max(len(chunk)/w.ShrinkFactor, w.MinChunk)
		}
		res.Retries++
		queue = append(split(chunk, size), queue...)
	}
	return res, nil
}

func (w *BulkWriter[T]) key(row T) string {
	if w.Key == nil {
		return ""
	}
	return w.Key(row)
}

func split[T any](rows []T, size int) [][]T {
	if len(rows) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
