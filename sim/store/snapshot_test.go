package store

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exercise-sim/exercise-sim/sim"
	"github.com/exercise-sim/exercise-sim/sim/internal/testutil"
	"github.com/exercise-sim/exercise-sim/sim/scenario"
)

// buildFixture returns the engine and initial world of the field exercise.
func buildFixture(t *testing.T) (*sim.Engine, *sim.ExerciseState) {
	t.Helper()
	sc, err := scenario.Load(testutil.ScenarioPath(t, "field-exercise.yaml"))
	require.NoError(t, err)
	e := sim.NewEngine()
	state, err := sc.Build(e)
	require.NoError(t, err)
	return e, state
}

func TestSnapshot_RoundTrip(t *testing.T) {
	// GIVEN a world advanced a few ticks
	e, state := buildFixture(t)
	for i := 0; i < 3; i++ {
		next, err := e.Advance(state, 60000)
		require.NoError(t, err)
		state = next
	}
	path := filepath.Join(t.TempDir(), "snaps", "t3.zst")

	// WHEN it is written and read back
	written, err := WriteSnapshot(path, state)
	require.NoError(t, err)
	hdr, loaded, err := ReadSnapshot(path)
	require.NoError(t, err)

	// THEN header and body describe the same snapshot
	assert.Equal(t, written, hdr)
	assert.Equal(t, SnapshotVersion, hdr.Version)
	assert.Equal(t, "field-exercise", hdr.ExerciseID)
	assert.Equal(t, int64(180000), hdr.CurrentTime)
	want, err := sim.Digest(state)
	require.NoError(t, err)
	got, err := sim.Digest(loaded)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, want, hdr.Digest)

	// AND the header is readable on its own
	onlyHeader, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, hdr, onlyHeader)
}

func TestSnapshot_LoadedStateKeepsRunning(t *testing.T) {
	// GIVEN a snapshot written mid-run
	e, state := buildFixture(t)
	state, err := e.Advance(state, 60000)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "mid.zst")
	_, err = WriteSnapshot(path, state)
	require.NoError(t, err)
	_, loaded, err := ReadSnapshot(path)
	require.NoError(t, err)

	// WHEN both the original and the loaded copy advance identically
	a, err := e.Advance(state, 60000)
	require.NoError(t, err)
	b, err := e.Advance(loaded, 60000)
	require.NoError(t, err)

	// THEN they stay in lock step
	da, err := sim.Digest(a)
	require.NoError(t, err)
	db, err := sim.Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

// writeRaw writes arbitrary content as a zstd-compressed snapshot file.
func writeRaw(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.zst")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	bw := bufio.NewWriter(zw)
	_, err = bw.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestReadSnapshot_DigestMismatch(t *testing.T) {
	// GIVEN a valid body under a header recording another digest
	_, state := buildFixture(t)
	body, err := sim.NewCodec(sim.DefaultBehaviors, sim.DefaultActivities).Encode(state)
	require.NoError(t, err)
	header := `{"version":1,"exerciseId":"field-exercise","currentTime":0,"digest":"00"}`
	path := writeRaw(t, header+"\n"+string(body))

	// WHEN it is read
	_, _, err = ReadSnapshot(path)

	// THEN the mismatch is reported
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestReadSnapshot_Errors(t *testing.T) {
	dir := t.TempDir()
	notZstd := filepath.Join(dir, "plain.zst")
	require.NoError(t, os.WriteFile(notZstd, []byte("not compressed"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "missing.zst")},
		{name: "not zstd", path: notZstd},
		{name: "unsupported version", path: writeRaw(t, "{\"version\":9}\n{}")},
		{name: "header not json", path: writeRaw(t, "version 1\n{}")},
		{name: "no header line", path: writeRaw(t, `{"version":1}`)},
		{name: "body fails schema", path: writeRaw(t, "{\"version\":1}\n{\"id\":\"x\"}")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ReadSnapshot(tc.path)
			assert.Error(t, err)
		})
	}
}
