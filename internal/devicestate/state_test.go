package devicestate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 独立于实现的期望迁移表
var expectedTransitions = map[string][]string{
	"OFFLINE":          {"CONNECTING", "ONLINE", "ERROR"},
	"CONNECTING":       {"ONLINE", "OFFLINE", "ERROR"},
	"ONLINE":           {"IDLE", "BUSY", "OFFLINE", "DISCONNECTED", "ERROR"},
	"IDLE":             {"BUSY", "WORKING", "OFFLINE", "ERROR"},
	"BUSY":             {"IDLE", "WORKING", "OFFLINE", "ERROR"},
	"WORKING":          {"IDLE", "BUSY", "OFFLINE", "ERROR"},
	"DISCONNECTED":     {"CONNECTING", "OFFLINE"},
	"CHARGING":         {"ONLINE", "IDLE", "BUSY"},
	"BATTERY_LOW":      {"CHARGING", "BATTERY_CRITICAL", "OFFLINE"},
	"BATTERY_CRITICAL": {"CHARGING", "OFFLINE"},
	"ERROR":            {"OFFLINE", "MAINTENANCE"},
	"UNREACHABLE":      {"OFFLINE", "CONNECTING"},
	"MAINTENANCE":      {"OFFLINE"},
}

func TestCanTransitionTo_AllPairs(t *testing.T) {
	require.Len(t, AllStates, 13)
	require.Len(t, expectedTransitions, 13)

	checked := 0
	for _, from := range AllStates {
		allowed := map[string]bool{}
		for _, to := range expectedTransitions[string(from)] {
			allowed[to] = true
		}
		for _, to := range AllStates {
			checked++
			assert.Equal(t, allowed[string(to)], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.Equal(t, 169, checked)
}

func TestValidateTransition(t *testing.T) {
	t.Run("无历史状态时接受任意合法状态", func(t *testing.T) {
		for _, s := range AllStates {
			assert.NoError(t, ValidateTransition("", s))
		}
	})

	t.Run("ONLINE到BATTERY_LOW被拒绝", func(t *testing.T) {
		err := ValidateTransition(StateOnline, StateBatteryLow)
		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "Invalid state transition from ONLINE to BATTERY_LOW", err.Error())
	})

	t.Run("自迁移不合法", func(t *testing.T) {
		assert.Error(t, ValidateTransition(StateIdle, StateIdle))
	})

	t.Run("未知目标状态", func(t *testing.T) {
		err := ValidateTransition(StateOnline, State("SLEEPING"))
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestPriority(t *testing.T) {
	want := map[State]int{
		StateError: 100, StateUnreachable: 90, StateBatteryCritical: 80, StateBatteryLow: 70,
		StateMaintenance: 60, StateOffline: 50, StateDisconnected: 40, StateConnecting: 30,
		StateWorking: 20, StateBusy: 15, StateCharging: 10, StateIdle: 5, StateOnline: 0,
	}
	for s, p := range want {
		assert.Equal(t, p, s.Priority(), string(s))
	}
	assert.Equal(t, 0, State("UNKNOWN").Priority())
}

func TestPredicates(t *testing.T) {
	assert.True(t, StateOnline.IsOnline())
	assert.False(t, StateIdle.IsOnline())

	assert.True(t, StateOffline.IsOffline())
	assert.True(t, StateDisconnected.IsOffline())
	assert.False(t, StateUnreachable.IsOffline())

	assert.True(t, StateBusy.IsBusy())
	assert.True(t, StateWorking.IsBusy())

	assert.True(t, StateOnline.IsAvailable())
	assert.True(t, StateIdle.IsAvailable())
	assert.False(t, StateBusy.IsAvailable())

	assert.True(t, StateError.IsError())
	assert.True(t, StateUnreachable.IsError())
	assert.False(t, StateMaintenance.IsError())

	assert.True(t, StateCharging.IsPowerRelated())
	assert.True(t, StateBatteryLow.IsPowerRelated())
	assert.True(t, StateBatteryCritical.IsPowerRelated())
	assert.False(t, StateOnline.IsPowerRelated())
}

func TestParse(t *testing.T) {
	s, err := Parse("WORKING")
	require.NoError(t, err)
	assert.Equal(t, StateWorking, s)

	_, err = Parse("working")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAllowedTargets_ReturnsCopy(t *testing.T) {
	targets := StateMaintenance.AllowedTargets()
	require.Equal(t, []State{StateOffline}, targets)
	targets[0] = StateOnline
	assert.False(t, StateMaintenance.CanTransitionTo(StateOnline))
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 13)
	for _, d := range defs {
		assert.NotEqual(t, "unknown", d.Category, d.Name)
	}
	assert.Equal(t, []string{"OFFLINE", "MAINTENANCE"}, StateError.Info().AllowedTargets)
}
