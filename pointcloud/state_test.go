package pointcloud

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	legal := map[[2]NodeState]bool{
		{StateEmpty, StateLoading}:     true,
		{StateLoading, StateEmpty}:     true,
		{StateLoading, StateDisplayed}: true,
		{StateLoading, StateLoading}:   true, // attribute swap
		{StateDisplayed, StateHidden}:  true,
		{StateDisplayed, StateLoading}: true,
		{StateHidden, StateDisplayed}:  true,
		{StateHidden, StateLoading}:    true,
		{StateHidden, StateEmpty}:      true,
	}

	states := []NodeState{StateEmpty, StateHidden, StateLoading, StateDisplayed}
	for _, from := range states {
		for _, to := range states {
			want := legal[[2]NodeState{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	info := &NodeInfo{state: StateEmpty}
	now := time.Unix(0, 0)

	err := info.transition(StateDisplayed, now)
	require.Error(t, err)
	assert.Equal(t, StateEmpty, info.State(), "state unchanged after rejection")

	require.NoError(t, info.transition(StateLoading, now))
	assert.Equal(t, StateLoading, info.State())
	assert.Equal(t, now, info.StateTimestamp())
}

func TestTransitionUpdatesTimestamp(t *testing.T) {
	info := &NodeInfo{state: StateEmpty}
	t0 := time.Unix(100, 0)
	t1 := time.Unix(200, 0)

	require.NoError(t, info.transition(StateLoading, t0))
	require.NoError(t, info.transition(StateDisplayed, t1))
	assert.Equal(t, t1, info.StateTimestamp())
}
