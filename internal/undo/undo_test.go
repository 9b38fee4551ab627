package undo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingAction struct {
	log       *[]string
	name      string
	applyUndo func()
}

func (a *recordingAction) Undo() {
	*a.log = append(*a.log, "undo:"+a.name)
	if a.applyUndo != nil {
		a.applyUndo()
	}
}

func (a *recordingAction) Release() {
	*a.log = append(*a.log, "release:"+a.name)
}

func TestRewindAppliesInverseActionsInReverseOrder(t *testing.T) {
	l := NewLog()
	var log []string

	l.SetToken(100)
	require.NoError(t, l.Register(&recordingAction{log: &log, name: "a"}))
	require.NoError(t, l.Register(&recordingAction{log: &log, name: "b"}))
	require.NoError(t, l.Register(&recordingAction{log: &log, name: "c"}))

	l.Rewind(100)

	require.Equal(t, []string{"undo:c", "undo:b", "undo:a"}, log)
	require.EqualValues(t, -1, l.CurrentToken())
}

func TestReleaseFinalizesInForwardOrder(t *testing.T) {
	l := NewLog()
	var log []string

	l.SetToken(1)
	require.NoError(t, l.Register(&recordingAction{log: &log, name: "a"}))
	require.NoError(t, l.Register(&recordingAction{log: &log, name: "b"}))

	l.Release(1)

	require.Equal(t, []string{"release:a", "release:b"}, log)
}

func TestRegisterWithoutOpenQuantumFails(t *testing.T) {
	l := NewLog()
	err := l.Register(&recordingAction{log: &[]string{}, name: "orphan"})
	require.ErrorIs(t, err, ErrNoOpenQuantum)
}

func TestSetTokenIsNoOpForSameOrSentinelToken(t *testing.T) {
	l := NewLog()
	l.SetToken(5)
	l.SetToken(5)
	require.EqualValues(t, 5, l.CurrentToken())

	const noUndo = int64(1<<63 - 1)
	l.SetToken(noUndo)
	require.EqualValues(t, 5, l.CurrentToken())
}

func TestRewindOnlyAffectsQuantaAtOrAboveToken(t *testing.T) {
	l := NewLog()
	var log []string

	l.SetToken(1)
	require.NoError(t, l.Register(&recordingAction{log: &log, name: "old"}))
	l.SetToken(2)
	require.NoError(t, l.Register(&recordingAction{log: &log, name: "new"}))

	l.Rewind(2)

	require.Equal(t, []string{"undo:new"}, log)
	require.EqualValues(t, 1, l.CurrentToken())
}

func TestMultipleQuantaRewoundMostRecentFirst(t *testing.T) {
	l := NewLog()
	var log []string

	l.SetToken(1)
	require.NoError(t, l.Register(&recordingAction{log: &log, name: "q1"}))
	l.SetToken(2)
	require.NoError(t, l.Register(&recordingAction{log: &log, name: "q2"}))
	l.SetToken(3)
	require.NoError(t, l.Register(&recordingAction{log: &log, name: "q3"}))

	l.Rewind(1)

	require.Equal(t, []string{"undo:q3", "undo:q2", "undo:q1"}, log)
	require.EqualValues(t, -1, l.CurrentToken())
}
