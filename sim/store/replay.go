package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/exercise-sim/exercise-sim/sim"
)

// Mismatch is an indexed snapshot whose digest replay did not reproduce.
type Mismatch struct {
	Seq      int64
	Recorded string
	Replayed string
}

// ReplayResult is the outcome of re-applying a log.
type ReplayResult struct {
	Final      *sim.ExerciseState
	Applied    int
	Checked    int
	Mismatches []Mismatch
}

// Replay re-applies every logged action to initial and compares the digest
// after each action against the snapshot index. The initial state itself is
// checked against the record with Seq 0, if any.
func Replay(ctx context.Context, e *sim.Engine, initial *sim.ExerciseState, log *Log) (*ReplayResult, error) {
	actions, err := log.Actions(ctx)
	if err != nil {
		return nil, err
	}
	records, err := log.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	expected := make(map[int64]string, len(records))
	for _, r := range records {
		expected[r.Seq] = r.Digest
	}

	result := &ReplayResult{Final: initial}
	check := func(seq int64, state *sim.ExerciseState) error {
		want, ok := expected[seq]
		if !ok {
			return nil
		}
		got, err := sim.Digest(state)
		if err != nil {
			return err
		}
		result.Checked++
		if got != want {
			logrus.Warnf("replay: digest mismatch after action %d", seq)
			result.Mismatches = append(result.Mismatches, Mismatch{Seq: seq, Recorded: want, Replayed: got})
		}
		return nil
	}

	if err := check(0, initial); err != nil {
		return nil, err
	}
	state := initial
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := e.Advance(state, a.ElapsedMs)
		if err != nil {
			return nil, fmt.Errorf("replaying action %d: %w", a.Seq, err)
		}
		state = next
		result.Applied++
		if err := check(a.Seq, state); err != nil {
			return nil, err
		}
	}
	result.Final = state
	logrus.Infof("replay: applied %d action(s), checked %d digest(s), %d mismatch(es)",
		result.Applied, result.Checked, len(result.Mismatches))
	return result, nil
}
