package load

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/chatlift/skypeetl/pkg/export"
	"github.com/chatlift/skypeetl/pkg/run"
)

const (
	// MinBatchSize is the floor the adaptive batch never shrinks below.
	MinBatchSize = 100
	// MaxBatchSize is the ceiling the adaptive batch never grows above.
	MaxBatchSize = 5000

	batchGrowthFactor = 1.5
	batchShrinkFactor = 0.5
)

// BulkStrategy inserts rows in batches whose size adapts at runtime:
// each successful flush grows the batch, a failed flush shrinks it and
// retries once. Each flush runs inside a savepoint so a failed batch
// does not poison the enclosing transaction. Attachments go through
// COPY with a batched fallback.
type BulkStrategy struct {
	batchSize int
	minBatch  int
	maxBatch  int
	memory    *run.MemoryMonitor
	log       *slog.Logger
}

// NewBulkStrategy creates a bulk strategy starting at the given batch
// size, clamped to [MinBatchSize, MaxBatchSize]. The memory monitor is
// optional; when present, critical pressure halves the batch before the
// next flush.
func NewBulkStrategy(batchSize int, memory *run.MemoryMonitor) *BulkStrategy {
	size := batchSize
	if size < MinBatchSize {
		size = MinBatchSize
	}
	if size > MaxBatchSize {
		size = MaxBatchSize
	}
	return &BulkStrategy{
		batchSize: size,
		minBatch:  MinBatchSize,
		maxBatch:  MaxBatchSize,
		memory:    memory,
		log:       slog.With("component", "bulk-strategy"),
	}
}

// Name identifies the strategy in logs and summaries.
func (s *BulkStrategy) Name() string { return "bulk" }

// BatchSize reports the current adaptive batch size.
func (s *BulkStrategy) BatchSize() int { return s.batchSize }

// grow widens the batch after a successful flush.
func (s *BulkStrategy) grow() {
	s.batchSize = min(s.maxBatch, int(float64(s.batchSize)*batchGrowthFactor))
}

// shrink narrows the batch after a failed flush or memory pressure.
func (s *BulkStrategy) shrink() {
	s.batchSize = max(s.minBatch, int(float64(s.batchSize)*batchShrinkFactor))
}

// Insert writes the payload in dependency order. It returns the rows
// actually written; messages already present are skipped, not counted.
func (s *BulkStrategy) Insert(ctx context.Context, tx pgx.Tx, data *export.TransformedData, exportID int64) (*Result, error) {
	rows, err := buildRows(data, exportID)
	if err != nil {
		return nil, err
	}

	res := &Result{}

	n, err := flushAdaptive(ctx, s, tx, "users", rows.users, enqueueUser)
	if err != nil {
		return res, err
	}
	res.Users = int(n)

	n, err = flushAdaptive(ctx, s, tx, "conversations", rows.conversations, enqueueConversation)
	if err != nil {
		return res, err
	}
	res.Conversations = int(n)

	n, err = flushAdaptive(ctx, s, tx, "participants", rows.participants, enqueueParticipant)
	if err != nil {
		return res, err
	}
	res.Participants = int(n)

	n, err = flushAdaptive(ctx, s, tx, "messages", rows.messages, enqueueMessage)
	if err != nil {
		return res, err
	}
	res.Messages = int(n)

	n, err = s.copyAttachments(ctx, tx, rows.attachments)
	if err != nil {
		return res, err
	}
	res.Attachments = int(n)

	return res, nil
}

// flushAdaptive walks the rows in adaptive-size batches. On success the
// batch grows by half, capped at the maximum. On failure it shrinks by
// half, floored at the minimum, and retries the same slice once; a
// failure at the minimum size is fatal.
func flushAdaptive[T any](ctx context.Context, s *BulkStrategy, tx pgx.Tx, table string, rows []T, enqueue func(*pgx.Batch, T)) (int64, error) {
	var affected int64
	i := 0
	for i < len(rows) {
		if err := ctx.Err(); err != nil {
			return affected, err
		}
		s.relieveMemoryPressure()

		size := min(s.batchSize, len(rows)-i)
		n, err := sendBatch(ctx, tx, rows[i:i+size], enqueue)
		if err != nil {
			if s.batchSize <= s.minBatch {
				return affected, fmt.Errorf("failed to insert %s batch at minimum size %d: %w",
					table, s.minBatch, err)
			}
			prev := s.batchSize
			s.shrink()
			s.log.Warn("Batch insert failed, shrinking batch and retrying",
				"table", table, "previous_size", prev, "new_size", s.batchSize, "error", err)

			size = min(s.batchSize, len(rows)-i)
			n, err = sendBatch(ctx, tx, rows[i:i+size], enqueue)
			if err != nil {
				return affected, fmt.Errorf("failed to insert %s batch after shrinking to %d: %w",
					table, s.batchSize, err)
			}
			i += size
			affected += n
			continue
		}

		i += size
		affected += n
		s.grow()
	}
	return affected, nil
}

// sendBatch flushes one batch inside a savepoint so the enclosing
// transaction survives a failed flush.
func sendBatch[T any](ctx context.Context, tx pgx.Tx, rows []T, enqueue func(*pgx.Batch, T)) (int64, error) {
	nested, err := tx.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open savepoint: %w", err)
	}

	b := &pgx.Batch{}
	for _, row := range rows {
		enqueue(b, row)
	}

	br := nested.SendBatch(ctx, b)
	var affected int64
	for range rows {
		ct, err := br.Exec()
		if err != nil {
			_ = br.Close()
			_ = nested.Rollback(ctx)
			return 0, err
		}
		affected += ct.RowsAffected()
	}
	if err := br.Close(); err != nil {
		_ = nested.Rollback(ctx)
		return 0, err
	}
	if err := nested.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to release savepoint: %w", err)
	}
	return affected, nil
}

// copyAttachments streams attachments through COPY. COPY cannot express
// conflict handling, so if it fails (for example duplicate rows from a
// resumed run) the strategy falls back to batched inserts.
func (s *BulkStrategy) copyAttachments(ctx context.Context, tx pgx.Tx, rows []attachmentRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	nested, err := tx.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open savepoint: %w", err)
	}

	columns := []string{"message_id", "type", "name", "url", "content_type",
		"size", "local_path", "thumbnail_path", "metadata"}
	n, err := nested.CopyFrom(ctx, pgx.Identifier{"attachments"}, columns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.messageID, r.attType, r.name, r.url, r.contentType,
				r.size, r.localPath, r.thumbnailPath, nullableJSON(r.metadata)}, nil
		}))
	if err != nil {
		_ = nested.Rollback(ctx)
		s.log.Warn("COPY of attachments failed, falling back to batched inserts", "error", err)
		return flushAdaptive(ctx, s, tx, "attachments", rows, enqueueAttachment)
	}
	if err := nested.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to release savepoint: %w", err)
	}
	return n, nil
}

// relieveMemoryPressure halves the batch when the monitor reports
// critical pressure, down to the minimum.
func (s *BulkStrategy) relieveMemoryPressure() {
	if s.memory == nil {
		return
	}
	snap := s.memory.Check()
	if snap.Level != run.MemoryCritical || s.batchSize <= s.minBatch {
		return
	}
	prev := s.batchSize
	s.shrink()
	s.log.Warn("Memory pressure critical, narrowing batch",
		"previous_size", prev, "new_size", s.batchSize, "rss_mb", snap.RSSMB)
}
