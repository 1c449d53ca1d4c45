package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chatlift/skypeetl/pkg/run"
)

// summaryDoc is the on-disk run summary written next to the checkpoints.
type summaryDoc struct {
	TaskID            string                     `json:"task_id"`
	Status            run.PhaseStatus            `json:"status"`
	StartTime         time.Time                  `json:"start_time"`
	EndTime           time.Time                  `json:"end_time"`
	DurationSeconds   float64                    `json:"duration_seconds"`
	UserID            string                     `json:"user_id,omitempty"`
	UserDisplayName   string                     `json:"user_display_name,omitempty"`
	ExportDate        string                     `json:"export_date,omitempty"`
	SourcePath        string                     `json:"source_path,omitempty"`
	ExportID          int64                      `json:"export_id,omitempty"`
	ConversationCount int                        `json:"conversation_count"`
	MessageCount      int                        `json:"message_count"`
	Phases            map[string]*run.PhaseState `json:"phases"`
	ErrorCount        int                        `json:"error_count"`
	FatalErrorCount   int                        `json:"fatal_error_count"`
	Errors            []run.ErrorEntry           `json:"errors,omitempty"`
	MemoryPeakMB      float64                    `json:"memory_peak_mb,omitempty"`
}

// writeSummary persists the human-readable run summary as
// etl_summary_<task_id>.json under the output dir.
func writeSummary(rc *run.Context, res *Result) (string, error) {
	userID, displayName, exportDate := rc.UserMetadata()
	total, fatal := rc.Errors.Counts()

	endTime := time.Now().UTC()
	doc := summaryDoc{
		TaskID:            rc.TaskID,
		Status:            res.Status,
		StartTime:         rc.StartTime,
		EndTime:           endTime,
		DurationSeconds:   endTime.Sub(rc.StartTime).Seconds(),
		UserID:            userID,
		UserDisplayName:   displayName,
		ExportDate:        exportDate,
		SourcePath:        rc.SourcePath(),
		ExportID:          res.ExportID,
		ConversationCount: res.ConversationCount,
		MessageCount:      res.MessageCount,
		Phases:            res.Phases,
		ErrorCount:        total,
		FatalErrorCount:   fatal,
		Errors:            res.Errors,
	}
	for _, snap := range rc.Memory.History() {
		if snap.RSSMB > doc.MemoryPeakMB {
			doc.MemoryPeakMB = snap.RSSMB
		}
	}

	if err := os.MkdirAll(rc.Config.ETL.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(rc.Config.ETL.OutputDir, "etl_summary_"+rc.TaskID+".json")

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	return path, nil
}
