package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exercise-sim/exercise-sim/sim"
)

// recordRun advances state through intervals, logging every action and
// indexing the digest after each one.
func recordRun(t *testing.T, e *sim.Engine, state *sim.ExerciseState, l *Log, intervals []int64) *sim.ExerciseState {
	t.Helper()
	ctx := context.Background()
	digest, err := sim.Digest(state)
	require.NoError(t, err)
	require.NoError(t, l.RecordSnapshot(ctx, SnapshotRecord{Seq: 0, CurrentTime: state.CurrentTime, Digest: digest}))
	for _, interval := range intervals {
		next, err := e.Advance(state, interval)
		require.NoError(t, err)
		state = next
		seq, err := l.AppendAction(ctx, interval)
		require.NoError(t, err)
		digest, err := sim.Digest(state)
		require.NoError(t, err)
		require.NoError(t, l.RecordSnapshot(ctx, SnapshotRecord{Seq: seq, CurrentTime: state.CurrentTime, Digest: digest}))
	}
	return state
}

func TestReplay_ReproducesRecordedRun(t *testing.T) {
	// GIVEN a recorded run and the initial snapshot persisted to disk
	e, initial := buildFixture(t)
	dir := t.TempDir()
	_, err := WriteSnapshot(filepath.Join(dir, "initial.zst"), initial)
	require.NoError(t, err)
	l, _ := openTestLog(t)
	final := recordRun(t, e, initial, l, []int64{60000, 60000, 30000, 0, 120000, 60000})

	// WHEN a fresh engine replays the log from the loaded initial snapshot
	_, loaded, err := ReadSnapshot(filepath.Join(dir, "initial.zst"))
	require.NoError(t, err)
	result, err := Replay(context.Background(), sim.NewEngine(), loaded, l)
	require.NoError(t, err)

	// THEN every digest matches, including generated ids
	assert.Equal(t, 6, result.Applied)
	assert.Equal(t, 7, result.Checked)
	assert.Empty(t, result.Mismatches)
	want, err := sim.Digest(final)
	require.NoError(t, err)
	got, err := sim.Digest(result.Final)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReplay_ReportsMismatch(t *testing.T) {
	// GIVEN a recorded run whose index was tampered with after action 2
	ctx := context.Background()
	e, initial := buildFixture(t)
	l, _ := openTestLog(t)
	recordRun(t, e, initial, l, []int64{60000, 60000, 60000})
	require.NoError(t, l.RecordSnapshot(ctx, SnapshotRecord{Seq: 2, CurrentTime: 120000, Digest: "tampered"}))

	// WHEN the run is replayed
	result, err := Replay(ctx, e, initial, l)
	require.NoError(t, err)

	// THEN exactly that action is reported
	require.Len(t, result.Mismatches, 1)
	assert.Equal(t, int64(2), result.Mismatches[0].Seq)
	assert.Equal(t, "tampered", result.Mismatches[0].Recorded)
	assert.Equal(t, int64(180000), result.Final.CurrentTime)
}

func TestReplay_CanceledContext(t *testing.T) {
	e, initial := buildFixture(t)
	l, _ := openTestLog(t)
	_, err := l.AppendAction(context.Background(), 1000)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Replay(ctx, e, initial, l)
	assert.ErrorIs(t, err, context.Canceled)
}
