// Package store persists exercise snapshots and the action log used to
// replay a run.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/exercise-sim/exercise-sim/sim"
)

// SnapshotVersion is written into every snapshot header.
const SnapshotVersion = 1

// ErrDigestMismatch is returned when a snapshot body does not hash to the
// digest recorded in its header.
var ErrDigestMismatch = errors.New("snapshot digest mismatch")

// Header is the first line of a snapshot file. It can be read without
// decoding the exercise body.
type Header struct {
	Version     int    `json:"version"`
	ExerciseID  string `json:"exerciseId"`
	CurrentTime int64  `json:"currentTime"`
	Digest      string `json:"digest"`
}

// WriteSnapshot stores state at path as a zstd stream holding a JSON header
// line followed by the exercise document. It returns the header written.
func WriteSnapshot(path string, state *sim.ExerciseState) (Header, error) {
	body, err := sim.NewCodec(sim.DefaultBehaviors, sim.DefaultActivities).Encode(state)
	if err != nil {
		return Header{}, err
	}
	digest, err := sim.Digest(state)
	if err != nil {
		return Header{}, err
	}
	hdr := Header{
		Version:     SnapshotVersion,
		ExerciseID:  state.ID,
		CurrentTime: state.CurrentTime,
		Digest:      digest,
	}
	hb, err := json.Marshal(hdr)
	if err != nil {
		return Header{}, fmt.Errorf("encoding snapshot header: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Header{}, fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Header{}, fmt.Errorf("creating snapshot %s: %w", path, err)
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return Header{}, fmt.Errorf("creating zstd writer: %w", err)
	}
	bw := bufio.NewWriterSize(zw, 1<<20)
	writeErr := func() error {
		if _, err := bw.Write(hb); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		if _, err := bw.Write(body); err != nil {
			return err
		}
		return bw.Flush()
	}()
	closeErr := zw.Close()
	fileErr := f.Close()
	if err := errors.Join(writeErr, closeErr, fileErr); err != nil {
		return Header{}, fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	logrus.Debugf("store: wrote snapshot %s (exercise %s, t=%d)", path, hdr.ExerciseID, hdr.CurrentTime)
	return hdr, nil
}

// ReadHeader returns only the header of the snapshot at path.
func ReadHeader(path string) (Header, error) {
	hdr, _, err := readRaw(path, false)
	return hdr, err
}

// ReadSnapshot loads and validates the snapshot at path. The decoded state
// must hash to the header's digest.
func ReadSnapshot(path string) (Header, *sim.ExerciseState, error) {
	hdr, body, err := readRaw(path, true)
	if err != nil {
		return Header{}, nil, err
	}
	state, err := sim.DecodeExercise(body)
	if err != nil {
		return Header{}, nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	digest, err := sim.Digest(state)
	if err != nil {
		return Header{}, nil, err
	}
	if hdr.Digest != "" && digest != hdr.Digest {
		return Header{}, nil, fmt.Errorf("%s: %w (header %s, body %s)", path, ErrDigestMismatch, hdr.Digest, digest)
	}
	return hdr, state, nil
}

func readRaw(path string, withBody bool) (Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()
	br := bufio.NewReaderSize(zr, 1<<20)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return Header{}, nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(line, &hdr); err != nil {
		return Header{}, nil, fmt.Errorf("decoding snapshot header: %w", err)
	}
	if hdr.Version != SnapshotVersion {
		return Header{}, nil, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}
	if !withBody {
		return hdr, nil, nil
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return Header{}, nil, fmt.Errorf("reading snapshot body: %w", err)
	}
	return hdr, body, nil
}
