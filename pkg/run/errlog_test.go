package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorLogCounts(t *testing.T) {
	pm := NewPhaseManager()
	log := NewErrorLog(pm)

	log.Record(PhaseExtract, "first warning", nil, false)
	log.Record(PhaseExtract, "second warning", map[string]any{"id": "m1"}, false)
	log.Record(PhaseTransform, "boom", nil, true)

	total, fatal := log.Counts()
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, fatal)
}

func TestErrorLogFatalFailsPhase(t *testing.T) {
	pm := NewPhaseManager()
	log := NewErrorLog(pm)
	require.NoError(t, pm.StartPhase(PhaseLoad, 0, 0))

	log.Record(PhaseLoad, "constraint violation", nil, true)
	assert.Equal(t, PhaseFailed, pm.Status(PhaseLoad))
}

func TestErrorLogWarningDowngradesPhase(t *testing.T) {
	pm := NewPhaseManager()
	log := NewErrorLog(pm)
	require.NoError(t, pm.StartPhase(PhaseTransform, 0, 0))

	log.Record(PhaseTransform, "bad timestamp", map[string]any{"message_id": "m1"}, false)
	assert.Equal(t, PhaseWarning, pm.Status(PhaseTransform))
}

func TestErrorLogRecent(t *testing.T) {
	pm := NewPhaseManager()
	log := NewErrorLog(pm)
	for i := 0; i < 5; i++ {
		log.Record(PhaseExtract, "w", map[string]any{"i": i}, false)
	}

	recent := log.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, 3, recent[0].Details["i"])
	assert.Equal(t, 4, recent[1].Details["i"])

	assert.Len(t, log.Recent(100), 5)
	assert.Len(t, log.All(), 5)
}

func TestProgressTrackerStats(t *testing.T) {
	p := NewProgressTracker()
	p.Reset(100)

	current, total, _, _ := p.Stats()
	assert.Equal(t, 0, current)
	assert.Equal(t, 100, total)

	p.Update(40, 100)
	current, total, rate, _ := p.Stats()
	assert.Equal(t, 40, current)
	assert.Equal(t, 100, total)
	assert.Greater(t, rate, 0.0)
}

func TestProgressTrackerResetClearsState(t *testing.T) {
	p := NewProgressTracker()
	p.Reset(10)
	p.Update(10, 10)

	p.Reset(50)
	current, total, rate, eta := p.Stats()
	assert.Equal(t, 0, current)
	assert.Equal(t, 50, total)
	assert.Zero(t, rate)
	assert.Zero(t, eta)
}
