package extract

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/skypeetl/pkg/config"
	"github.com/chatlift/skypeetl/pkg/run"
)

const topLevelExport = `{
	"userId": "live:alice",
	"exportDate": "2024-01-15T10:00:00Z",
	"conversations": [
		{
			"id": "8:live:bob",
			"displayName": "Bob",
			"MessageList": [
				{"id": "m1", "originalarrivaltime": "2024-01-10T09:00:00Z",
				 "messagetype": "RichText", "content": "hi", "from": "8:live:bob", "displayName": "Bob"},
				{"id": "m2", "originalarrivaltime": "2024-01-10T09:01:00Z",
				 "messagetype": "RichText", "content": "hello", "from": "8:live:alice", "displayName": "Alice"}
			]
		},
		{
			"id": "19:team@thread.skype",
			"displayName": "Team",
			"MessageList": []
		}
	]
}`

const nestedExport = `{
	"messages": [
		{
			"userId": "live:alice",
			"exportDate": "2024-01-15T10:00:00Z",
			"conversations": [
				{"id": "8:live:bob", "displayName": "Bob",
				 "MessageList": [{"id": "m1", "messagetype": "Text", "content": "hi", "from": "8:live:bob"}]}
			]
		}
	]
}`

func newTestContext(t *testing.T) *run.Context {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.DBName = "skype"
	cfg.Database.User = "etl"
	cfg.ETL.OutputDir = t.TempDir()
	return run.NewContext(&cfg, "")
}

func writeSourceFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeTarSource(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.tar")
	f, err := os.Create(path)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}))
		_, err = tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractTopLevelLayout(t *testing.T) {
	rc := newTestContext(t)
	path := writeSourceFile(t, "export.json", topLevelExport)

	raw, err := New(rc).Extract(context.Background(), Source{Path: path})
	require.NoError(t, err)

	assert.Equal(t, "live:alice", raw.UserID)
	assert.Equal(t, "2024-01-15T10:00:00Z", raw.ExportDate)
	require.Len(t, raw.Conversations, 2)

	assert.Equal(t, "8:live:bob", raw.Conversations[0].ID)
	assert.Len(t, raw.Conversations[0].MessageList, 2)
	assert.Equal(t, "m1", raw.Conversations[0].MessageList[0].ID)

	// The empty conversation survives with a non-nil message list.
	assert.Equal(t, "19:team@thread.skype", raw.Conversations[1].ID)
	assert.NotNil(t, raw.Conversations[1].MessageList)
	assert.Empty(t, raw.Conversations[1].MessageList)

	userID, _, exportDate := rc.UserMetadata()
	assert.Equal(t, "live:alice", userID)
	assert.Equal(t, "2024-01-15T10:00:00Z", exportDate)
}

func TestExtractNestedLayout(t *testing.T) {
	rc := newTestContext(t)
	path := writeSourceFile(t, "export.json", nestedExport)

	raw, err := New(rc).Extract(context.Background(), Source{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "live:alice", raw.UserID)
	require.Len(t, raw.Conversations, 1)
	assert.Equal(t, "8:live:bob", raw.Conversations[0].ID)
}

func TestExtractTarSource(t *testing.T) {
	rc := newTestContext(t)
	path := writeTarSource(t, map[string]string{
		"media/photo.jpg": "not json",
		"messages.json":   topLevelExport,
	})

	raw, err := New(rc).Extract(context.Background(), Source{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "live:alice", raw.UserID)
	assert.Len(t, raw.Conversations, 2)
}

func TestExtractTarWithoutMessagesEntry(t *testing.T) {
	rc := newTestContext(t)
	path := writeTarSource(t, map[string]string{"media/photo.jpg": "not json"})

	_, err := New(rc).Extract(context.Background(), Source{Path: path})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractStreamSource(t *testing.T) {
	rc := newTestContext(t)

	raw, err := New(rc).Extract(context.Background(), Source{Reader: strings.NewReader(topLevelExport)})
	require.NoError(t, err)
	assert.Equal(t, "live:alice", raw.UserID)
	assert.Len(t, raw.Conversations, 2)
}

func TestExtractSourceValidation(t *testing.T) {
	rc := newTestContext(t)
	e := New(rc)
	ctx := context.Background()

	_, err := e.Extract(ctx, Source{})
	assert.Error(t, err)

	_, err = e.Extract(ctx, Source{Path: "x.json", Reader: strings.NewReader("{}")})
	assert.Error(t, err)

	_, err = e.Extract(ctx, Source{Path: filepath.Join(t.TempDir(), "missing.json")})
	assert.ErrorIs(t, err, ErrSourceNotFound)

	path := writeSourceFile(t, "export.zip", "zip bytes")
	_, err = e.Extract(ctx, Source{Path: path})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractInvalidJSON(t *testing.T) {
	rc := newTestContext(t)
	path := writeSourceFile(t, "export.json", `{"userId": "live:alice", "conversations": [{]}`)

	_, err := New(rc).Extract(context.Background(), Source{Path: path})
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestExtractMissingMetadata(t *testing.T) {
	rc := newTestContext(t)
	path := writeSourceFile(t, "export.json", `{"conversations": []}`)

	_, err := New(rc).Extract(context.Background(), Source{Path: path})
	assert.ErrorIs(t, err, ErrMissingMetadata)
}

func TestExtractCancellation(t *testing.T) {
	rc := newTestContext(t)
	path := writeSourceFile(t, "export.json", topLevelExport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(rc).Extract(ctx, Source{Path: path})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractDumpRaw(t *testing.T) {
	rc := newTestContext(t)
	rc.Config.ETL.DumpRaw = true
	path := writeSourceFile(t, "export.json", topLevelExport)

	_, err := New(rc).Extract(context.Background(), Source{Path: path})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(rc.Config.ETL.OutputDir, "raw_export.json"))
}
