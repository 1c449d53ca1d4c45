package run

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultLogInterval is the minimum delay between progress log lines.
const DefaultLogInterval = 5 * time.Second

// ProgressTracker accumulates (current, total) counters with derived rate
// and ETA. Logging is throttled to avoid drowning the run log.
type ProgressTracker struct {
	mu          sync.Mutex
	current     int
	total       int
	startedAt   time.Time
	lastLog     time.Time
	logInterval time.Duration
}

// NewProgressTracker creates a tracker with the default log interval.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{logInterval: DefaultLogInterval}
}

// Reset starts a fresh count toward a new total.
func (p *ProgressTracker) Reset(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = 0
	p.total = total
	p.startedAt = time.Now()
	p.lastLog = time.Time{}
}

// Update sets the cumulative processed count and logs progress if the
// minimum interval has elapsed (or the work just finished).
func (p *ProgressTracker) Update(current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startedAt.IsZero() {
		p.startedAt = time.Now()
	}
	p.current = current
	if total > 0 {
		p.total = total
	}

	now := time.Now()
	done := p.total > 0 && p.current >= p.total
	if !done && now.Sub(p.lastLog) < p.logInterval {
		return
	}
	p.lastLog = now

	rate, eta := p.deriveLocked(now)
	slog.Info("Progress",
		"current", p.current,
		"total", p.total,
		"rate_per_sec", rate,
		"eta", eta.Round(time.Second).String())
}

// Stats returns the current counters with derived rate and ETA.
func (p *ProgressTracker) Stats() (current, total int, rate float64, eta time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rate, eta = p.deriveLocked(time.Now())
	return p.current, p.total, rate, eta
}

func (p *ProgressTracker) deriveLocked(now time.Time) (float64, time.Duration) {
	elapsed := now.Sub(p.startedAt).Seconds()
	if elapsed <= 0 || p.current == 0 {
		return 0, 0
	}
	rate := float64(p.current) / elapsed
	remaining := p.total - p.current
	if remaining <= 0 || rate == 0 {
		return rate, 0
	}
	return rate, time.Duration(float64(remaining) / rate * float64(time.Second))
}
