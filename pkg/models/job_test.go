package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, p)

	for _, valid := range []string{"high", "medium", "low"} {
		p, err := ParsePriority(valid)
		require.NoError(t, err)
		assert.Equal(t, Priority(valid), p)
	}

	_, err = ParsePriority("urgent")
	assert.Error(t, err)
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("")
	require.NoError(t, err)
	assert.Equal(t, TargetEmulator, target)

	target, err = ParseTarget("browserstack")
	require.NoError(t, err)
	assert.Equal(t, TargetCloud, target)

	_, err = ParseTarget("mainframe")
	assert.Error(t, err)
}

func TestJobStateTerminal(t *testing.T) {
	for state, want := range map[JobState]bool{
		JobStatePending:        false,
		JobStateQueuedForGroup: false,
		JobStateRunning:        false,
		JobStateRetrying:       false,
		JobStateCompleted:      true,
		JobStateFailed:         true,
		JobStateCancelled:      true,
	} {
		assert.Equal(t, want, state.Terminal(), "state %s", state)
	}
}

func TestPrioritiesOrder(t *testing.T) {
	assert.Equal(t, []Priority{PriorityHigh, PriorityMedium, PriorityLow}, Priorities())
}

func TestAgentCanRun(t *testing.T) {
	agent := &Agent{Capabilities: []Target{TargetEmulator, TargetDevice}}
	assert.True(t, agent.CanRun(TargetEmulator))
	assert.True(t, agent.CanRun(TargetDevice))
	assert.False(t, agent.CanRun(TargetCloud))
}
