package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatlift/skypeetl/pkg/export"
)

// CheckpointVersion identifies the checkpoint document format.
const CheckpointVersion = "1.0"

// ErrCheckpointNotFound indicates no checkpoint exists for a task id.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted run state. Only whitelisted attributes are
// serialized; the large phase artifacts live in sidecar files referenced by
// path, so a checkpoint stays small regardless of export size.
type Checkpoint struct {
	CheckpointVersion string                 `json:"checkpoint_version"`
	TaskID            string                 `json:"task_id"`
	CreatedAt         time.Time              `json:"created_at"`
	StartTime         time.Time              `json:"start_time"`
	UserID            string                 `json:"user_id,omitempty"`
	UserDisplayName   string                 `json:"user_display_name,omitempty"`
	ExportDate        string                 `json:"export_date,omitempty"`
	SourcePath        string                 `json:"source_path,omitempty"`
	ExportID          int64                  `json:"export_id,omitempty"`
	Phases            map[string]*PhaseState `json:"phases"`
	ErrorCount        int                    `json:"error_count"`
	FatalErrorCount   int                    `json:"fatal_error_count"`
	RawDataPath       string                 `json:"raw_data_path,omitempty"`
	TransformedPath   string                 `json:"transformed_data_path,omitempty"`
}

// CheckpointManager persists and restores Context state by task id under
// <output_dir>/checkpoints.
type CheckpointManager struct {
	outputDir string
}

// NewCheckpointManager creates a manager rooted at the run's output dir.
func NewCheckpointManager(outputDir string) *CheckpointManager {
	return &CheckpointManager{outputDir: outputDir}
}

func (m *CheckpointManager) checkpointDir() string {
	return filepath.Join(m.outputDir, "checkpoints")
}

func (m *CheckpointManager) checkpointPath(taskID string) string {
	return filepath.Join(m.checkpointDir(), "checkpoint_"+taskID+".json")
}

// Save writes a checkpoint for the Context. Present data artifacts are
// written to sidecar files first, so a checkpoint that marks a phase
// completed always references a restorable artifact.
func (m *CheckpointManager) Save(c *Context) (string, error) {
	if err := os.MkdirAll(m.checkpointDir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	userID, displayName, exportDate := c.UserMetadata()
	total, fatal := c.Errors.Counts()
	cp := Checkpoint{
		CheckpointVersion: CheckpointVersion,
		TaskID:            c.TaskID,
		CreatedAt:         time.Now().UTC(),
		StartTime:         c.StartTime,
		UserID:            userID,
		UserDisplayName:   displayName,
		ExportDate:        exportDate,
		SourcePath:        c.SourcePath(),
		ExportID:          c.ExportID(),
		Phases:            c.Phases.Snapshot(),
		ErrorCount:        total,
		FatalErrorCount:   fatal,
	}

	if raw := c.RawData(); raw != nil {
		path := filepath.Join(m.outputDir, c.TaskID+"_raw_data.json")
		if err := writeJSON(path, raw); err != nil {
			return "", fmt.Errorf("failed to write raw data artifact: %w", err)
		}
		cp.RawDataPath = path
	}
	if transformed := c.TransformedData(); transformed != nil {
		path := filepath.Join(m.outputDir, c.TaskID+"_transformed_data.json")
		if err := writeJSON(path, transformed); err != nil {
			return "", fmt.Errorf("failed to write transformed data artifact: %w", err)
		}
		cp.TransformedPath = path
	}

	path := m.checkpointPath(c.TaskID)
	if err := writeJSON(path, &cp); err != nil {
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return path, nil
}

// Load reads the checkpoint document for a task id.
func (m *CheckpointManager) Load(taskID string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath(taskID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: task %s", ErrCheckpointNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	if cp.CheckpointVersion == "" {
		return nil, fmt.Errorf("checkpoint for task %s has no version", taskID)
	}
	return &cp, nil
}

// Restore applies a checkpoint onto a Context and reloads any referenced
// phase artifacts from their sidecar files.
func (m *CheckpointManager) Restore(c *Context, cp *Checkpoint) error {
	c.SetUserMetadata(cp.UserID, cp.UserDisplayName, cp.ExportDate)
	c.SetSourcePath(cp.SourcePath)
	if cp.ExportID != 0 {
		c.SetExportID(cp.ExportID)
	}
	c.Phases.Restore(cp.Phases)

	if cp.RawDataPath != "" {
		var raw export.RawExport
		if err := readJSON(cp.RawDataPath, &raw); err != nil {
			return fmt.Errorf("failed to restore raw data artifact: %w", err)
		}
		c.SetRawData(&raw)
	}
	if cp.TransformedPath != "" {
		var transformed export.TransformedData
		if err := readJSON(cp.TransformedPath, &transformed); err != nil {
			return fmt.Errorf("failed to restore transformed data artifact: %w", err)
		}
		c.SetTransformedData(&transformed)
	}
	return nil
}

// List returns the task ids that have checkpoints, in directory order.
func (m *CheckpointManager) List() ([]string, error) {
	entries, err := os.ReadDir(m.checkpointDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	var taskIDs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "checkpoint_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		taskIDs = append(taskIDs, strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint_"), ".json"))
	}
	return taskIDs, nil
}

// Delete removes a task's checkpoint and its sidecar artifacts. Missing
// files are ignored.
func (m *CheckpointManager) Delete(taskID string) error {
	cp, err := m.Load(taskID)
	if err != nil {
		if errors.Is(err, ErrCheckpointNotFound) {
			return nil
		}
		return err
	}
	for _, path := range []string{cp.RawDataPath, cp.TransformedPath, m.checkpointPath(taskID)} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
