package load

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatlift/skypeetl/pkg/database"
	"github.com/chatlift/skypeetl/pkg/export"
	"github.com/chatlift/skypeetl/pkg/run"
)

// ErrNoData indicates the transform phase produced nothing to load.
var ErrNoData = errors.New("no transformed data to load")

const insertArchiveSQL = `
	INSERT INTO archives
		(user_id, user_display_name, export_date, file_path, file_size, task_id)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`

// Loader writes one transformed export into PostgreSQL atomically: schema
// checks run first on a dedicated connection, then the archive row and the
// full payload commit inside a single transaction.
type Loader struct {
	rc       *run.Context
	pool     *database.Pool
	schema   *database.SchemaManager
	txm      *database.TransactionManager
	strategy Strategy
	log      *slog.Logger
}

// NewLoader wires a loader with the given insertion strategy.
func NewLoader(rc *run.Context, pool *database.Pool, schema *database.SchemaManager, strategy Strategy) *Loader {
	return &Loader{
		rc:       rc,
		pool:     pool,
		schema:   schema,
		txm:      database.NewTransactionManager(),
		strategy: strategy,
		log:      slog.With("component", "loader"),
	}
}

// Load validates the payload, ensures the schema, and commits everything
// in one transaction. On success the archive id is stored on the run
// context; on failure the transaction is rolled back and a fatal error is
// recorded against the load phase.
func (l *Loader) Load(ctx context.Context, data *export.TransformedData) (*Result, error) {
	if data == nil || len(data.Conversations) == 0 && len(data.Users) == 0 {
		l.rc.RecordError(run.PhaseLoad, "no transformed data to load", nil, true)
		return nil, ErrNoData
	}

	if err := l.schema.Ensure(ctx); err != nil {
		l.rc.RecordError(run.PhaseLoad, "schema preparation failed",
			map[string]any{"error": err.Error()}, true)
		return nil, err
	}

	computeConversationAggregates(data)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		l.rc.RecordError(run.PhaseLoad, "failed to acquire database connection",
			map[string]any{"error": err.Error()}, true)
		return nil, err
	}
	defer l.pool.Release(conn)

	var (
		exportID int64
		result   *Result
	)
	err = l.txm.Run(ctx, conn, func(tx pgx.Tx) error {
		id, err := l.insertArchive(ctx, tx, data)
		if err != nil {
			return err
		}
		res, err := l.strategy.Insert(ctx, tx, data, id)
		if err != nil {
			return err
		}
		res.Archives = 1
		exportID, result = id, res
		return nil
	})
	if err != nil {
		l.rc.RecordError(run.PhaseLoad, "load transaction failed",
			map[string]any{"error": err.Error(), "strategy": l.strategy.Name()}, true)
		return nil, fmt.Errorf("load failed: %w", err)
	}

	l.rc.SetExportID(exportID)
	l.log.Info("Load committed",
		"export_id", exportID,
		"strategy", l.strategy.Name(),
		"conversations", result.Conversations,
		"messages", result.Messages,
		"attachments", result.Attachments)
	return result, nil
}

// insertArchive writes the parent archive row and returns its generated id.
func (l *Loader) insertArchive(ctx context.Context, tx pgx.Tx, data *export.TransformedData) (int64, error) {
	userID, displayName, exportDateRaw := l.rc.UserMetadata()
	if userID == "" {
		userID = data.User.ID
	}
	if displayName == "" {
		displayName = data.User.DisplayName
	}

	exportDate, fellBack := export.ParseTimestamp(exportDateRaw, time.Now().UTC())
	if fellBack && exportDateRaw != "" {
		l.rc.RecordError(run.PhaseLoad, "export date unparseable, using current time",
			map[string]any{"export_date": exportDateRaw}, false)
	}

	filePath := l.archiveFilePath()
	fileSize := sourceFileSize(l.rc.SourcePath())

	var id int64
	err := tx.QueryRow(ctx, insertArchiveSQL,
		userID, displayName, exportDate, filePath, fileSize, l.rc.TaskID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert archive row: %w", err)
	}
	return id, nil
}

// archiveFilePath normalizes the source path to satisfy the archives
// table's .tar extension constraint. Non-tar sources keep their base name
// with the extension rewritten, and the rewrite is logged as a warning.
func (l *Loader) archiveFilePath() string {
	source := l.rc.SourcePath()
	if source == "" {
		source = "export.tar"
	}
	if strings.HasSuffix(source, ".tar") {
		return source
	}

	ext := filepath.Ext(source)
	rewritten := strings.TrimSuffix(source, ext) + ".tar"
	l.rc.RecordError(run.PhaseLoad, "source path rewritten to satisfy archive constraint",
		map[string]any{"original": source, "stored": rewritten}, false)
	return rewritten
}

func sourceFileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// computeConversationAggregates fills in per-conversation counts and time
// bounds when the transform left them unset, so restored checkpoints and
// hand-built payloads load with consistent metadata.
func computeConversationAggregates(data *export.TransformedData) {
	for _, conv := range data.Conversations {
		if conv.Metadata.MessageCount == 0 {
			conv.Metadata.MessageCount = len(conv.Messages)
		}
		if conv.Metadata.ParticipantCount == 0 {
			conv.Metadata.ParticipantCount = len(conv.Participants)
		}
		if len(conv.Messages) == 0 {
			continue
		}
		first, last := conv.Messages[0].Timestamp, conv.Messages[0].Timestamp
		for i := 1; i < len(conv.Messages); i++ {
			ts := conv.Messages[i].Timestamp
			if ts.Before(first) {
				first = ts
			}
			if ts.After(last) {
				last = ts
			}
		}
		if conv.CreatedAt.IsZero() {
			conv.CreatedAt = first
		}
		if conv.LastMessageAt.IsZero() {
			conv.LastMessageAt = last
		}
	}
}
