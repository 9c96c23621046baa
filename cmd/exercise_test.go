package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exercise-sim/exercise-sim/sim/store"
	"github.com/exercise-sim/exercise-sim/sim/trace"
)

// fixtureScenario is resolved relative to the package directory, where go test runs.
var fixtureScenario = filepath.Join("..", "testdata", "scenarios", "field-exercise.yaml")

func recordedRun(t *testing.T, ticks, every int) runOptions {
	t.Helper()
	dir := t.TempDir()
	opts := runOptions{
		ScenarioPath:  fixtureScenario,
		Ticks:         ticks,
		Interval:      60000,
		Out:           filepath.Join(dir, "final.zst"),
		LogDB:         filepath.Join(dir, "run.db"),
		SnapshotEvery: every,
		TraceLevel:    trace.TraceLevelDispatch,
	}
	var out bytes.Buffer
	require.NoError(t, runExercise(context.Background(), opts, &out))
	return opts
}

func TestRunExercise_WritesSnapshotsAndLog(t *testing.T) {
	// GIVEN a scenario run for 5 actions with a snapshot every 2
	dir := t.TempDir()
	opts := runOptions{
		ScenarioPath:  fixtureScenario,
		Ticks:         5,
		Interval:      60000,
		Out:           filepath.Join(dir, "final.zst"),
		LogDB:         filepath.Join(dir, "run.db"),
		SnapshotEvery: 2,
		TraceLevel:    trace.TraceLevelDispatch,
	}
	var out bytes.Buffer

	// WHEN it runs
	require.NoError(t, runExercise(context.Background(), opts, &out))

	// THEN the initial, intermediate and final snapshots exist
	for _, name := range []string{"final.initial.zst", "final.000002.zst", "final.000004.zst", "final.zst"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	hdr, err := store.ReadHeader(opts.Out)
	require.NoError(t, err)
	assert.Equal(t, int64(300000), hdr.CurrentTime)

	// AND every action and digest is logged
	l, err := store.OpenLog(opts.LogDB)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	actions, err := l.Actions(context.Background())
	require.NoError(t, err)
	assert.Len(t, actions, 5)
	records, err := l.Snapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 6)
	assert.Equal(t, opts.Out, records[5].Path)
	assert.Equal(t, hdr.Digest, records[5].Digest)
	assert.Empty(t, records[1].Path, "digest-only record between snapshots")

	// AND the summary is printed
	assert.Contains(t, out.String(), "Exercise       : field-exercise")
	assert.Contains(t, out.String(), "=== Simulation Metrics ===")
	assert.Contains(t, out.String(), "=== Dispatch Trace ===")
}

func TestRunExercise_RefusesUsedLog(t *testing.T) {
	opts := recordedRun(t, 2, 0)
	opts.Out = filepath.Join(t.TempDir(), "again.zst")
	err := runExercise(context.Background(), opts, &bytes.Buffer{})
	assert.ErrorContains(t, err, "already holds 2 action(s)")
}

func TestRunExercise_InvalidOptions(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		opts runOptions
	}{
		{name: "negative ticks", opts: runOptions{ScenarioPath: fixtureScenario, Ticks: -1, Out: filepath.Join(dir, "a.zst")}},
		{name: "negative interval", opts: runOptions{ScenarioPath: fixtureScenario, Interval: -5, Out: filepath.Join(dir, "b.zst")}},
		{name: "missing scenario", opts: runOptions{ScenarioPath: filepath.Join(dir, "none.yaml"), Out: filepath.Join(dir, "c.zst")}},
		{name: "empty output", opts: runOptions{ScenarioPath: fixtureScenario}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, runExercise(context.Background(), tc.opts, &bytes.Buffer{}))
		})
	}
}

func TestReplayExercise_MatchesRecordedRun(t *testing.T) {
	// GIVEN a recorded run
	opts := recordedRun(t, 6, 3)
	var out bytes.Buffer

	// WHEN it is replayed from its initial snapshot
	err := replayExercise(context.Background(), opts.LogDB, opts.initialPath(), &out)

	// THEN every digest is reproduced
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Actions applied : 6")
	assert.Contains(t, out.String(), "Digests checked : 7")
	assert.NotContains(t, out.String(), "MISMATCH")
}

func TestReplayExercise_DetectsDivergence(t *testing.T) {
	// GIVEN a recorded run whose digest index was altered
	opts := recordedRun(t, 3, 0)
	l, err := store.OpenLog(opts.LogDB)
	require.NoError(t, err)
	require.NoError(t, l.RecordSnapshot(context.Background(), store.SnapshotRecord{Seq: 1, CurrentTime: 60000, Digest: "bogus"}))
	require.NoError(t, l.Close())
	var out bytes.Buffer

	// WHEN it is replayed
	err = replayExercise(context.Background(), opts.LogDB, opts.initialPath(), &out)

	// THEN the divergence is an error and named in the output
	assert.ErrorIs(t, err, ErrReplayDiverged)
	assert.Contains(t, out.String(), "MISMATCH after action 1")
}

func TestReplayExercise_MissingLog(t *testing.T) {
	opts := recordedRun(t, 1, 0)
	err := replayExercise(context.Background(), filepath.Join(t.TempDir(), "none.db"), opts.initialPath(), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestInspectSnapshot_PrintsSummary(t *testing.T) {
	// GIVEN a freshly built exercise
	opts := recordedRun(t, 0, 0)
	var out bytes.Buffer

	// WHEN its initial snapshot is inspected
	require.NoError(t, inspectSnapshot(opts.initialPath(), &out))

	// THEN the world and its regions are summarized
	text := out.String()
	assert.Contains(t, text, "Exercise       : field-exercise")
	assert.Contains(t, text, "Patients       : 7")
	assert.Contains(t, text, "Vehicles       : 2 (2 idle)")
	assert.Contains(t, text, "Region site (Incident site)")
	assert.Contains(t, text, "behaviors  : patientTransportDemandBehavior, requestVehiclesBehavior, unloadArrivingVehiclesBehavior, reportBehavior")
	assert.Contains(t, text, "Region station (Ambulance station)")
}

func TestRunOptions_DerivedPaths(t *testing.T) {
	opts := runOptions{Out: filepath.Join("runs", "exercise.zst")}
	assert.Equal(t, filepath.Join("runs", "exercise.initial.zst"), opts.initialPath())
	assert.Equal(t, filepath.Join("runs", "exercise.000012.zst"), opts.intermediatePath(12))

	opts.Initial = "start.zst"
	assert.Equal(t, "start.zst", opts.initialPath())
}
