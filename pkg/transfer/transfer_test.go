package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateLiterals(t *testing.T) {
	ok, err := Evaluate("all", IterationState{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate("never", IterationState{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateLastIteration(t *testing.T) {
	ok, err := Evaluate("last_iteration", IterationState{CurIter: 3, MaxRep: 3})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate("last_iteration", IterationState{CurIter: 2, MaxRep: 3})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Evaluate("last_iteration", IterationState{CurIter: 100, MaxRepInf: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateBooleanCombinators(t *testing.T) {
	ok, err := Evaluate("all_but_last_iteration and not stop_iteration", IterationState{CurIter: 1, MaxRep: 3, StopMarker: false})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate("stop_iteration or never", IterationState{StopMarker: true})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateRejectsUnknownToken(t *testing.T) {
	_, err := Evaluate("all and maybe", IterationState{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maybe")
}
