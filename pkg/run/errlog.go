package run

import (
	"log/slog"
	"sync"
	"time"
)

// ErrorEntry is one recorded pipeline error.
type ErrorEntry struct {
	Phase     string         `json:"phase"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Fatal     bool           `json:"fatal"`
}

// ErrorLog accumulates errors in order for the run summary. Fatal errors
// flip the owning phase to failed via the PhaseManager; non-fatal errors
// downgrade it to warning.
type ErrorLog struct {
	phases *PhaseManager

	mu      sync.Mutex
	entries []ErrorEntry
	fatals  int
}

// NewErrorLog creates an error log bound to the run's phase manager.
func NewErrorLog(phases *PhaseManager) *ErrorLog {
	return &ErrorLog{phases: phases}
}

// Record appends an error. Components never swallow fatal errors: every
// fatal condition passes through here before being raised.
func (l *ErrorLog) Record(phase, message string, details map[string]any, fatal bool) {
	entry := ErrorEntry{
		Phase:     phase,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Details:   details,
		Fatal:     fatal,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if fatal {
		l.fatals++
	}
	l.mu.Unlock()

	if fatal {
		l.phases.MarkFailed(phase)
		slog.Error("Pipeline error", "phase", phase, "message", message, "details", details)
	} else {
		l.phases.MarkWarning(phase)
		slog.Warn("Pipeline warning", "phase", phase, "message", message, "details", details)
	}
}

// Counts returns (total, fatal) error counts.
func (l *ErrorLog) Counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries), l.fatals
}

// Recent returns up to n of the most recent entries, oldest first.
func (l *ErrorLog) Recent(n int) []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]ErrorEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// All returns every entry in order.
func (l *ErrorLog) All() []ErrorEntry {
	return l.Recent(0)
}
