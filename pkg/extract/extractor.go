// Package extract validates the export source and streams raw conversations
// out of a tar archive or standalone JSON file.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chatlift/skypeetl/pkg/export"
	"github.com/chatlift/skypeetl/pkg/run"
)

// Source names the input for one extraction. Exactly one of Path or Reader
// must be set.
type Source struct {
	Path   string
	Reader io.Reader
}

// Extractor turns a tar or JSON source into run metadata and the raw
// conversation sequence. It records conversation and message counts on the
// run Context before materializing conversations, so progress totals are
// known up front.
type Extractor struct {
	rc  *run.Context
	log *slog.Logger
}

// New creates an Extractor bound to the run Context.
func New(rc *run.Context) *Extractor {
	return &Extractor{rc: rc, log: slog.With("component", "extractor")}
}

// Extract validates the source and performs two scanning passes: the first
// discovers metadata and counts conversations and messages, the second
// decodes conversations one at a time in file order. Parse memory is
// bounded to a single conversation per pass.
func (e *Extractor) Extract(ctx context.Context, src Source) (*export.RawExport, error) {
	open, err := e.opener(src)
	if err != nil {
		return nil, err
	}

	// Pass 1: metadata + counts.
	r, err := open()
	if err != nil {
		return nil, err
	}
	convCount, msgCount := 0, 0
	meta, err := scanDocument(r, func(conv *export.RawConversation) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		convCount++
		msgCount += len(conv.MessageList)
		return nil
	})
	closeQuiet(r)
	if err != nil {
		return nil, err
	}
	if meta.UserID == "" || meta.ExportDate == "" {
		return nil, fmt.Errorf("%w: userId=%q exportDate=%q",
			ErrMissingMetadata, meta.UserID, meta.ExportDate)
	}

	e.rc.SetUserMetadata(meta.UserID, "", meta.ExportDate)
	e.rc.Phases.UpdateMetric(run.PhaseExtract, "conversation_count", convCount)
	e.rc.Phases.UpdateMetric(run.PhaseExtract, "message_count", msgCount)
	e.rc.Progress.Reset(convCount)
	e.log.Info("Source scanned",
		"user_id", meta.UserID,
		"export_date", meta.ExportDate,
		"conversations", convCount,
		"messages", msgCount)

	// Pass 2: stream conversations in file order.
	r, err = open()
	if err != nil {
		return nil, err
	}
	defer closeQuiet(r)

	result := &export.RawExport{
		UserID:        meta.UserID,
		ExportDate:    meta.ExportDate,
		Conversations: make([]*export.RawConversation, 0, convCount),
	}
	processed := 0
	_, err = scanDocument(r, func(conv *export.RawConversation) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Conversations = append(result.Conversations, conv)
		processed++
		e.rc.Progress.Update(processed, convCount)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.rc.Config.ETL.DumpRaw {
		e.dumpRaw(src, result)
	}
	return result, nil
}

// opener validates the source and returns a function yielding a fresh
// reader per scanning pass.
func (e *Extractor) opener(src Source) (func() (io.ReadCloser, error), error) {
	switch {
	case src.Path != "" && src.Reader != nil:
		return nil, fmt.Errorf("exactly one of source path or stream must be provided")
	case src.Path != "":
		return e.pathOpener(src.Path)
	case src.Reader != nil:
		return streamOpener(src.Reader)
	default:
		return nil, fmt.Errorf("exactly one of source path or stream must be provided")
	}
}

func (e *Extractor) pathOpener(path string) (func() (io.ReadCloser, error), error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return func() (io.ReadCloser, error) { return os.Open(path) }, nil
	case ".tar":
		return func() (io.ReadCloser, error) { return openTarEntry(path) }, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// streamOpener buffers a non-seekable stream so both passes can run over
// it. A leading '{' marks JSON; anything else is treated as a tar stream,
// which is not supported without a path.
func streamOpener(r io.Reader) (func() (io.ReadCloser, error), error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read source stream: %w", err)
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: stream is not a JSON document", ErrUnsupportedFormat)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

// dumpRaw writes the extracted document under the output dir for
// debugging. Failures are warnings, never fatal.
func (e *Extractor) dumpRaw(src Source, result *export.RawExport) {
	base := "stream"
	if src.Path != "" {
		base = strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	}
	path := filepath.Join(e.rc.Config.ETL.OutputDir, "raw_"+base+".json")

	data, err := json.Marshal(result)
	if err == nil {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		e.log.Warn("Failed to dump raw document", "path", path, "error", err)
		return
	}
	e.log.Info("Raw document dumped", "path", path)
}

func closeQuiet(c io.Closer) {
	_ = c.Close()
}
