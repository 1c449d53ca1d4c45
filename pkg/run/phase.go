package run

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PhaseStatus is the lifecycle state of a pipeline phase.
type PhaseStatus string

// Phase statuses.
const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseWarning    PhaseStatus = "warning"
	PhaseFailed     PhaseStatus = "failed"
)

// The named pipeline phases, in execution order.
const (
	PhaseExtract   = "extract"
	PhaseTransform = "transform"
	PhaseLoad      = "load"
)

// PhaseOrder is the strict execution order of the pipeline.
var PhaseOrder = []string{PhaseExtract, PhaseTransform, PhaseLoad}

// PhaseState is the recorded state of one phase.
type PhaseState struct {
	Name               string         `json:"name"`
	Status             PhaseStatus    `json:"status"`
	StartedAt          time.Time      `json:"started_at,omitzero"`
	EndedAt            time.Time      `json:"ended_at,omitzero"`
	DurationSeconds    float64        `json:"duration_seconds,omitempty"`
	TotalConversations int            `json:"total_conversations,omitempty"`
	TotalMessages      int            `json:"total_messages,omitempty"`
	Metrics            map[string]any `json:"metrics,omitempty"`
}

// PhaseManager tracks state for the named phases. All mutations are
// serialized internally.
type PhaseManager struct {
	mu     sync.Mutex
	phases map[string]*PhaseState
}

// NewPhaseManager initializes all known phases as pending.
func NewPhaseManager() *PhaseManager {
	pm := &PhaseManager{phases: make(map[string]*PhaseState, len(PhaseOrder))}
	for _, name := range PhaseOrder {
		pm.phases[name] = &PhaseState{Name: name, Status: PhasePending}
	}
	return pm
}

// StartPhase marks a phase in_progress and records its start time and
// optional totals.
func (pm *PhaseManager) StartPhase(name string, totalConversations, totalMessages int) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	phase, ok := pm.phases[name]
	if !ok {
		return fmt.Errorf("unknown phase %q", name)
	}
	phase.Status = PhaseInProgress
	phase.StartedAt = time.Now().UTC()
	phase.TotalConversations = totalConversations
	phase.TotalMessages = totalMessages
	phase.Metrics = make(map[string]any)

	slog.Info("Phase started", "phase", name,
		"conversations", totalConversations, "messages", totalMessages)
	return nil
}

// EndPhase records the end timestamp, duration, and final status. Valid
// final statuses are completed, warning, and failed.
func (pm *PhaseManager) EndPhase(name string, status PhaseStatus) error {
	switch status {
	case PhaseCompleted, PhaseWarning, PhaseFailed:
	default:
		return fmt.Errorf("invalid terminal status %q for phase %q", status, name)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	phase, ok := pm.phases[name]
	if !ok {
		return fmt.Errorf("unknown phase %q", name)
	}
	phase.Status = status
	phase.EndedAt = time.Now().UTC()
	if !phase.StartedAt.IsZero() {
		phase.DurationSeconds = phase.EndedAt.Sub(phase.StartedAt).Seconds()
	}

	slog.Info("Phase ended", "phase", name, "status", status,
		"duration", time.Duration(phase.DurationSeconds*float64(time.Second)).Round(time.Millisecond))
	return nil
}

// UpdateMetric records a per-phase metric value.
func (pm *PhaseManager) UpdateMetric(name, key string, value any) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if phase, ok := pm.phases[name]; ok {
		if phase.Metrics == nil {
			phase.Metrics = make(map[string]any)
		}
		phase.Metrics[key] = value
	}
}

// Status returns the current status of a phase.
func (pm *PhaseManager) Status(name string) PhaseStatus {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if phase, ok := pm.phases[name]; ok {
		return phase.Status
	}
	return ""
}

// MarkFailed flips a phase to failed. Used by the error log on fatal
// errors.
func (pm *PhaseManager) MarkFailed(name string) {
	pm.setStatus(name, PhaseFailed)
}

// MarkWarning downgrades a running phase to warning. Completed or failed
// phases are left alone.
func (pm *PhaseManager) MarkWarning(name string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if phase, ok := pm.phases[name]; ok && phase.Status == PhaseInProgress {
		phase.Status = PhaseWarning
	}
}

func (pm *PhaseManager) setStatus(name string, status PhaseStatus) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if phase, ok := pm.phases[name]; ok {
		phase.Status = status
	}
}

// CanResumeFrom reports whether a run may resume at the given phase: every
// prior phase must be completed.
func (pm *PhaseManager) CanResumeFrom(name string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, prior := range PhaseOrder {
		if prior == name {
			return true
		}
		if pm.phases[prior].Status != PhaseCompleted {
			return false
		}
	}
	return false
}

// Snapshot returns a copy of all phase states keyed by name.
func (pm *PhaseManager) Snapshot() map[string]*PhaseState {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make(map[string]*PhaseState, len(pm.phases))
	for name, phase := range pm.phases {
		cp := *phase
		if phase.Metrics != nil {
			cp.Metrics = make(map[string]any, len(phase.Metrics))
			for k, v := range phase.Metrics {
				cp.Metrics[k] = v
			}
		}
		out[name] = &cp
	}
	return out
}

// Restore replaces phase states from a checkpoint snapshot.
func (pm *PhaseManager) Restore(states map[string]*PhaseState) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for name, state := range states {
		if _, ok := pm.phases[name]; ok && state != nil {
			cp := *state
			cp.Name = name
			pm.phases[name] = &cp
		}
	}
}
