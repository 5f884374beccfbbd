package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openindex/indexsync/proto"
)

func TestTrackerInitialStateFreshIndex(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t, nil)

	state, err := eng.TrackerInitialState(ctx)
	require.NoError(t, err)
	require.Zero(t, state.LastIndexedTxID)
	require.Zero(t, state.LastGoodTxCommitTime)
	require.Positive(t, state.TrackerStartTime)
	require.Equal(t, state.TrackerStartTime-eng.cfg.HoleRetentionMs, state.TimeBeforeWhichThereCanBeNoHoles)
}

func TestTrackerInitialStateResumesFromMarkers(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t, nil)

	now := nowMs()
	require.NoError(t, eng.IndexTransaction(ctx, &proto.Transaction{ID: 42, CommitTime: now}))
	require.NoError(t, eng.Commit(ctx))

	state, err := eng.TrackerInitialState(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(42), state.LastIndexedTxID)
	require.Equal(t, now, state.LastIndexedTxCommitTime)
	require.Equal(t, now-eng.cfg.HoleRetentionMs, state.LastGoodTxCommitTime)
}

func TestContinueStateFreshIndexScansFromZero(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t, nil)

	state, err := eng.TrackerInitialState(ctx)
	require.NoError(t, err)
	prevStart := state.TrackerStartTime

	eng.ContinueState(ctx, state)
	require.Zero(t, state.LastGoodTxCommitTime)
	require.Zero(t, state.LastGoodChangeSetCommitTime)
	require.Equal(t, prevStart, state.LastTrackerStartTime)
}

func TestContinueStateUsesLastStartBound(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t, nil)

	state := &proto.TrackerState{
		LastIndexedTxID:         42,
		LastIndexedTxCommitTime: 1000,
		TrackerStartTime:        nowMs(),
	}

	eng.ContinueState(ctx, state)

	// the previous start is far beyond the marker commit time, so the
	// resume watermark follows the start-derived bound
	require.Equal(t, state.LastTrackerStartTime-eng.cfg.HoleRetentionMs, state.LastGoodTxCommitTime)
	require.Greater(t, state.LastGoodTxCommitTime, int64(1000))
}
