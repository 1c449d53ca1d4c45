package run

import (
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Memory pressure thresholds as fractions of the configured limit.
const (
	memoryWarnFraction     = 0.80
	memoryCriticalFraction = 0.95
)

// MemoryLevel classifies a memory snapshot.
type MemoryLevel string

// Memory levels.
const (
	MemoryOK       MemoryLevel = "ok"
	MemoryWarn     MemoryLevel = "warn"
	MemoryCritical MemoryLevel = "critical"
)

// MemorySnapshot is one observation of process memory.
type MemorySnapshot struct {
	Timestamp time.Time   `json:"timestamp"`
	RSSMB     float64     `json:"rss_mb"`
	LimitMB   int         `json:"limit_mb"`
	Percent   float64     `json:"percent"`
	Level     MemoryLevel `json:"level"`
}

// MemoryMonitor polls process RSS against a configured limit. At the
// critical threshold it asks the runtime to release memory back to the OS
// and re-reads usage. Snapshot history is retained for phase metrics.
type MemoryMonitor struct {
	limitMB int

	mu        sync.Mutex
	proc      *process.Process
	snapshots []MemorySnapshot
	lastLevel MemoryLevel
}

// NewMemoryMonitor creates a monitor for the current process.
func NewMemoryMonitor(limitMB int) *MemoryMonitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// Extremely unlikely for our own pid; monitoring degrades to no-op.
		slog.Warn("Memory monitor could not attach to process", "error", err)
	}
	return &MemoryMonitor{limitMB: limitMB, proc: proc, lastLevel: MemoryOK}
}

// Check reads current RSS and returns a snapshot. A critical reading
// triggers debug.FreeOSMemory and a second read before classification.
func (m *MemoryMonitor) Check() MemorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.readLocked()
	if snap.Level == MemoryCritical {
		debug.FreeOSMemory()
		snap = m.readLocked()
		slog.Warn("Memory critical, released allocator memory",
			"rss_mb", snap.RSSMB, "limit_mb", m.limitMB, "percent", snap.Percent)
	} else if snap.Level == MemoryWarn && m.lastLevel != MemoryWarn {
		slog.Warn("Memory usage high",
			"rss_mb", snap.RSSMB, "limit_mb", m.limitMB, "percent", snap.Percent)
	}
	m.lastLevel = snap.Level

	m.snapshots = append(m.snapshots, snap)
	return snap
}

// Level returns the classification of the most recent check.
func (m *MemoryMonitor) Level() MemoryLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLevel
}

// History returns all snapshots taken so far.
func (m *MemoryMonitor) History() []MemorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemorySnapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

func (m *MemoryMonitor) readLocked() MemorySnapshot {
	snap := MemorySnapshot{
		Timestamp: time.Now().UTC(),
		LimitMB:   m.limitMB,
		Level:     MemoryOK,
	}
	if m.proc == nil || m.limitMB <= 0 {
		return snap
	}

	info, err := m.proc.MemoryInfo()
	if err != nil {
		slog.Warn("Failed to read process memory", "error", err)
		return snap
	}

	snap.RSSMB = float64(info.RSS) / (1024 * 1024)
	snap.Percent = snap.RSSMB / float64(m.limitMB) * 100
	switch {
	case snap.Percent >= memoryCriticalFraction*100:
		snap.Level = MemoryCritical
	case snap.Percent >= memoryWarnFraction*100:
		snap.Level = MemoryWarn
	}
	return snap
}
