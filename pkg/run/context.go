// Package run holds the run-scoped Context threaded through every pipeline
// component, together with its phase, progress, memory, error, and
// checkpoint sub-managers. Each sub-manager serializes its own mutations;
// the Context itself guards its mutable scalar fields.
package run

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatlift/skypeetl/pkg/config"
	"github.com/chatlift/skypeetl/pkg/export"
)

// Context is the single run-scoped object shared by extract, transform, and
// load. It owns configuration, run identity, user metadata, the phase data
// artifacts, and the five sub-managers.
type Context struct {
	Config    *config.Config
	TaskID    string
	StartTime time.Time

	Phases      *PhaseManager
	Progress    *ProgressTracker
	Memory      *MemoryMonitor
	Errors      *ErrorLog
	Checkpoints *CheckpointManager

	mu              sync.Mutex
	userID          string
	userDisplayName string
	exportDate      string
	sourcePath      string
	exportID        int64
	rawData         *export.RawExport
	transformedData *export.TransformedData
}

// NewContext creates a run Context. An empty taskID generates a fresh UUID.
func NewContext(cfg *config.Config, taskID string) *Context {
	if taskID == "" {
		taskID = uuid.New().String()
	}
	phases := NewPhaseManager()
	ctx := &Context{
		Config:    cfg,
		TaskID:    taskID,
		StartTime: time.Now().UTC(),
		Phases:    phases,
		Progress:  NewProgressTracker(),
		Memory:    NewMemoryMonitor(cfg.ETL.MemoryLimitMB),
		Errors:    NewErrorLog(phases),
	}
	ctx.Checkpoints = NewCheckpointManager(cfg.ETL.OutputDir)
	return ctx
}

// RecordError posts an error to the run's error log. Fatal errors mark the
// phase failed; callers still propagate the underlying error.
func (c *Context) RecordError(phase, message string, details map[string]any, fatal bool) {
	c.Errors.Record(phase, message, details, fatal)
}

// SetUserMetadata stores the export identity discovered during extraction.
func (c *Context) SetUserMetadata(userID, displayName, exportDate string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	if displayName != "" {
		c.userDisplayName = displayName
	}
	c.exportDate = exportDate
}

// UserMetadata returns (userID, userDisplayName, exportDate).
func (c *Context) UserMetadata() (string, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.userDisplayName, c.exportDate
}

// SetSourcePath records the original source file path for the archive row.
func (c *Context) SetSourcePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sourcePath = path
}

// SourcePath returns the original source file path.
func (c *Context) SourcePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sourcePath
}

// SetExportID records the server-assigned archive primary key after a
// successful load.
func (c *Context) SetExportID(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exportID = id
}

// ExportID returns the archive primary key, zero before load completes.
func (c *Context) ExportID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exportID
}

// SetRawData stores the extract phase artifact.
func (c *Context) SetRawData(raw *export.RawExport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rawData = raw
}

// RawData returns the extract phase artifact, nil if not present.
func (c *Context) RawData() *export.RawExport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawData
}

// SetTransformedData stores the transform phase artifact.
func (c *Context) SetTransformedData(data *export.TransformedData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transformedData = data
}

// TransformedData returns the transform phase artifact, nil if not present.
func (c *Context) TransformedData() *export.TransformedData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transformedData
}
