package budget_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/core/budget"
)

func TestTracker_ExhaustsAtLimit(t *testing.T) {
	tr := budget.NewTracker(2, 0, 0.8)
	require.NoError(t, tr.Consume("src"))

	err := tr.Consume("src")
	var warn *budget.WarningError
	assert.True(t, errors.As(err, &warn) || err == nil)

	err = tr.Consume("src")
	var exhausted *budget.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, int64(2), exhausted.Used)
}

func TestTracker_WarnsBeforeExhausted(t *testing.T) {
	tr := budget.NewTracker(10, 0, 0.5)
	for i := 0; i < 4; i++ {
		require.NoError(t, tr.Consume("src"))
	}
	err := tr.Consume("src") // 5th of 10 = 50%, crosses warnThreshold
	var warn *budget.WarningError
	require.ErrorAs(t, err, &warn)
	assert.Equal(t, int64(5), warn.Used)
}

func TestManager_UnregisteredSourceAlwaysAllowed(t *testing.T) {
	m := budget.NewManager()
	assert.NoError(t, m.Consume("unknown-source"))
}

func TestManager_RegisteredSourceEnforcesLimit(t *testing.T) {
	m := budget.NewManager()
	m.Register("src", 1, 0, 0.8)
	var warn *budget.WarningError
	require.ErrorAs(t, m.Consume("src"), &warn) // 1/1 = 100% crosses the 0.8 warn threshold

	var exhausted *budget.ExhaustedError
	require.ErrorAs(t, m.Consume("src"), &exhausted)
}
