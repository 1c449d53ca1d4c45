package load

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/skypeetl/pkg/config"
	"github.com/chatlift/skypeetl/pkg/export"
	"github.com/chatlift/skypeetl/pkg/run"
)

func newTestContext(t *testing.T) *run.Context {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.DBName = "skype"
	cfg.Database.User = "etl"
	cfg.ETL.OutputDir = t.TempDir()
	return run.NewContext(&cfg, "")
}

func sampleData() *export.TransformedData {
	ts := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	return &export.TransformedData{
		User: export.UserInfo{ID: "live:alice", DisplayName: "Alice"},
		Users: map[string]*export.User{
			"live:alice": {ID: "live:alice", DisplayName: "Alice", IsSelf: true},
			"8:live:bob": {ID: "8:live:bob", DisplayName: "Bob"},
		},
		Conversations: map[string]*export.Conversation{
			"8:live:bob": {
				ID:   "8:live:bob",
				Type: export.ConversationTypeOneToOne,
				Participants: []export.Participant{
					{ID: "8:live:bob", DisplayName: "Bob"},
					{ID: "live:alice", DisplayName: "Alice", IsSelf: true},
				},
				Messages: []export.Message{
					{
						ID: "m1", SenderID: "8:live:bob", SenderName: "Bob",
						Timestamp: ts, MessageType: "RichText",
						ContentHTML: "hi", ContentText: "hi",
						Attachments: []export.Attachment{
							{Type: "File.1", Name: "a.pdf", Size: 10},
						},
					},
					{
						ID: "m2", SenderID: "live:alice", SenderName: "Alice",
						Timestamp: ts.Add(time.Minute), MessageType: "Text",
						ContentHTML: "hello", ContentText: "hello",
					},
				},
			},
		},
	}
}

func TestBuildRows(t *testing.T) {
	rows, err := buildRows(sampleData(), 7)
	require.NoError(t, err)

	// Users sorted by id.
	require.Len(t, rows.users, 2)
	assert.Equal(t, "8:live:bob", rows.users[0].id)
	assert.Equal(t, "live:alice", rows.users[1].id)
	assert.True(t, rows.users[1].isSelf)

	require.Len(t, rows.conversations, 1)
	assert.Equal(t, int64(7), rows.conversations[0].exportID)

	require.Len(t, rows.participants, 2)
	assert.Equal(t, "8:live:bob", rows.participants[0].conversationID)

	require.Len(t, rows.messages, 2)
	assert.Equal(t, "m1", rows.messages[0].id)
	assert.Equal(t, "8:live:bob", rows.messages[0].conversationID)

	require.Len(t, rows.attachments, 1)
	assert.Equal(t, "m1", rows.attachments[0].messageID)
	assert.Equal(t, "a.pdf", rows.attachments[0].name)
}

func TestBuildRowsStructuredData(t *testing.T) {
	data := sampleData()
	data.Conversations["8:live:bob"].Messages[0].Structured = &export.StructuredData{
		ID:          "m1",
		MessageType: "RichText",
		Kind:        export.KindText,
		Text:        &export.TextData{HasMentions: true},
	}

	rows, err := buildRows(data, 1)
	require.NoError(t, err)
	assert.Contains(t, string(rows.messages[0].structured), `"has_mentions":true`)
	assert.Nil(t, rows.messages[1].structured)
}

func TestNullableJSON(t *testing.T) {
	assert.Nil(t, nullableJSON(nil))
	assert.Nil(t, nullableJSON([]byte{}))
	assert.Equal(t, []byte(`{}`), nullableJSON([]byte(`{}`)))
}

func TestBulkStrategyClampsInitialSize(t *testing.T) {
	assert.Equal(t, MinBatchSize, NewBulkStrategy(10, nil).BatchSize())
	assert.Equal(t, MaxBatchSize, NewBulkStrategy(100000, nil).BatchSize())
	assert.Equal(t, 1000, NewBulkStrategy(1000, nil).BatchSize())
}

func TestBulkStrategyAdaptiveSizing(t *testing.T) {
	s := NewBulkStrategy(1000, nil)

	s.grow()
	assert.Equal(t, 1500, s.BatchSize())
	s.grow()
	assert.Equal(t, 2250, s.BatchSize())

	// Growth saturates at the ceiling.
	for i := 0; i < 10; i++ {
		s.grow()
	}
	assert.Equal(t, MaxBatchSize, s.BatchSize())

	s.shrink()
	assert.Equal(t, 2500, s.BatchSize())

	// Shrink saturates at the floor.
	for i := 0; i < 10; i++ {
		s.shrink()
	}
	assert.Equal(t, MinBatchSize, s.BatchSize())
}

func TestStrategyNames(t *testing.T) {
	assert.Equal(t, "bulk", NewBulkStrategy(1000, nil).Name())
	assert.Equal(t, "individual", NewIndividualStrategy().Name())
}

func TestComputeConversationAggregates(t *testing.T) {
	data := sampleData()
	conv := data.Conversations["8:live:bob"]
	conv.Metadata = export.ConversationMetadata{}
	conv.CreatedAt = time.Time{}
	conv.LastMessageAt = time.Time{}

	computeConversationAggregates(data)

	assert.Equal(t, 2, conv.Metadata.MessageCount)
	assert.Equal(t, 2, conv.Metadata.ParticipantCount)
	assert.Equal(t, conv.Messages[0].Timestamp, conv.CreatedAt)
	assert.Equal(t, conv.Messages[1].Timestamp, conv.LastMessageAt)
}

func TestComputeConversationAggregatesKeepsExisting(t *testing.T) {
	data := sampleData()
	conv := data.Conversations["8:live:bob"]
	existing := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	conv.Metadata = export.ConversationMetadata{MessageCount: 99, ParticipantCount: 5}
	conv.CreatedAt = existing

	computeConversationAggregates(data)
	assert.Equal(t, 99, conv.Metadata.MessageCount)
	assert.Equal(t, 5, conv.Metadata.ParticipantCount)
	assert.Equal(t, existing, conv.CreatedAt)
}

func TestArchiveFilePathRewritesExtension(t *testing.T) {
	rc := newTestContext(t)
	l := NewLoader(rc, nil, nil, NewIndividualStrategy())

	rc.SetSourcePath("/data/export.tar")
	assert.Equal(t, "/data/export.tar", l.archiveFilePath())
	total, _ := rc.Errors.Counts()
	assert.Zero(t, total, "tar paths pass through without a warning")

	rc.SetSourcePath("/data/export.json")
	assert.Equal(t, "/data/export.tar", l.archiveFilePath())

	rc.SetSourcePath("/data/export")
	assert.Equal(t, "/data/export.tar", l.archiveFilePath())

	rc.SetSourcePath("")
	assert.Equal(t, "export.tar", l.archiveFilePath())

	total, fatal := rc.Errors.Counts()
	assert.Equal(t, 2, total, "each rewrite records a warning")
	assert.Zero(t, fatal)
}

// fakeTx covers the slice of pgx.Tx the strategies touch. Batches larger
// than batchLimit are rejected, mimicking a server-side limit.
type fakeTx struct {
	pgx.Tx
	batchLimit int // 0 = accept any size
	failAll    bool
	sent       []int
}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return f, nil }
func (f *fakeTx) Commit(ctx context.Context) error          { return nil }
func (f *fakeTx) Rollback(ctx context.Context) error        { return nil }

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{id: 1}
}

func (f *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.sent = append(f.sent, b.Len())
	if f.failAll || (f.batchLimit > 0 && b.Len() > f.batchLimit) {
		return fakeBatchResults{err: errors.New("batch rejected")}
	}
	return fakeBatchResults{}
}

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if id, ok := dest[0].(*int64); ok {
		*id = r.id
	}
	return nil
}

type fakeBatchResults struct{ err error }

func (r fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (r fakeBatchResults) Query() (pgx.Rows, error) { return nil, r.err }
func (r fakeBatchResults) QueryRow() pgx.Row        { return fakeRow{err: r.err} }
func (r fakeBatchResults) Close() error             { return nil }

func TestFlushAdaptiveShrinksAndRetries(t *testing.T) {
	s := NewBulkStrategy(1000, nil)
	tx := &fakeTx{batchLimit: 500}

	n, err := flushAdaptive(context.Background(), s, tx, "users", make([]userRow, 1200), enqueueUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), n, "every row lands despite the rejected batch")

	// The 1000-row batch is rejected, the retry at 500 succeeds, then the
	// remaining 500 and the 200-row tail go through.
	assert.Equal(t, []int{1000, 500, 500, 200}, tx.sent)
}

func TestFlushAdaptiveFailureAtMinimumIsFatal(t *testing.T) {
	s := NewBulkStrategy(MinBatchSize, nil)
	tx := &fakeTx{failAll: true}

	_, err := flushAdaptive(context.Background(), s, tx, "users", make([]userRow, 150), enqueueUser)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum")
}

func TestInsertArchiveValidExportDate(t *testing.T) {
	rc := newTestContext(t)
	rc.SetUserMetadata("live:alice", "Alice", "2024-01-15T10:00:00Z")
	l := NewLoader(rc, nil, nil, NewBulkStrategy(1000, nil))

	id, err := l.insertArchive(context.Background(), &fakeTx{}, sampleData())
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	total, _ := rc.Errors.Counts()
	assert.Zero(t, total, "a parseable export date records no warning")
}

func TestInsertArchiveUnparseableExportDateWarns(t *testing.T) {
	rc := newTestContext(t)
	rc.SetUserMetadata("live:alice", "Alice", "not-a-date")
	l := NewLoader(rc, nil, nil, NewBulkStrategy(1000, nil))

	_, err := l.insertArchive(context.Background(), &fakeTx{}, sampleData())
	require.NoError(t, err)

	total, fatal := rc.Errors.Counts()
	assert.Equal(t, 1, total)
	assert.Zero(t, fatal)
}
