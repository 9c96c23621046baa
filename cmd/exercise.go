package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/exercise-sim/exercise-sim/sim"
	"github.com/exercise-sim/exercise-sim/sim/scenario"
	"github.com/exercise-sim/exercise-sim/sim/store"
	"github.com/exercise-sim/exercise-sim/sim/trace"
)

// ErrReplayDiverged is returned when a replay does not reproduce a recorded digest.
var ErrReplayDiverged = errors.New("replay diverged from the recorded run")

// runOptions are the resolved flags of the run command.
type runOptions struct {
	ScenarioPath  string
	Ticks         int
	Interval      int64
	Out           string
	Initial       string
	LogDB         string
	SnapshotEvery int
	TraceLevel    trace.TraceLevel
}

func (o runOptions) initialPath() string {
	if o.Initial != "" {
		return o.Initial
	}
	return strings.TrimSuffix(o.Out, filepath.Ext(o.Out)) + ".initial.zst"
}

func (o runOptions) intermediatePath(seq int64) string {
	return fmt.Sprintf("%s.%06d.zst", strings.TrimSuffix(o.Out, filepath.Ext(o.Out)), seq)
}

// runExercise builds the scenario, applies opts.Ticks actions and writes the
// initial and final snapshots. With a log configured, every action and the
// digest it produced are recorded for replay.
func runExercise(ctx context.Context, opts runOptions, w io.Writer) error {
	if opts.Ticks < 0 {
		return fmt.Errorf("ticks must be >= 0, got %d", opts.Ticks)
	}
	if opts.Interval < 0 {
		return fmt.Errorf("interval must be >= 0, got %d", opts.Interval)
	}
	if opts.Out == "" {
		return errors.New("output snapshot path must not be empty")
	}
	sc, err := scenario.Load(opts.ScenarioPath)
	if err != nil {
		return err
	}

	var st *trace.SimulationTrace
	var engineOpts []sim.EngineOption
	if opts.TraceLevel == trace.TraceLevelDispatch {
		st = trace.NewSimulationTrace(trace.TraceConfig{Level: opts.TraceLevel})
		engineOpts = append(engineOpts, sim.WithTrace(st))
	}
	e := sim.NewEngine(engineOpts...)
	state, err := sc.Build(e)
	if err != nil {
		return err
	}

	var actionLog *store.Log
	if opts.LogDB != "" {
		actionLog, err = store.OpenLog(opts.LogDB)
		if err != nil {
			return err
		}
		defer func() { _ = actionLog.Close() }()
		existing, err := actionLog.Actions(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("log %s already holds %d action(s)", opts.LogDB, len(existing))
		}
	}
	record := func(seq int64, hdr store.Header, path string) error {
		if actionLog == nil {
			return nil
		}
		return actionLog.RecordSnapshot(ctx, store.SnapshotRecord{
			Seq: seq, CurrentTime: hdr.CurrentTime, Digest: hdr.Digest, Path: path,
		})
	}

	startTime := time.Now()
	initial := opts.initialPath()
	hdr, err := store.WriteSnapshot(initial, state)
	if err != nil {
		return err
	}
	if err := record(0, hdr, initial); err != nil {
		return err
	}

	logrus.Infof("Starting exercise %s: %d action(s) of %dms", state.ID, opts.Ticks, opts.Interval)
	var seq int64
	for i := 0; i < opts.Ticks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := e.Advance(state, opts.Interval)
		if err != nil {
			return err
		}
		state = next
		seq = int64(i + 1)
		if actionLog == nil {
			continue
		}
		if seq, err = actionLog.AppendAction(ctx, opts.Interval); err != nil {
			return err
		}
		if opts.SnapshotEvery > 0 && seq%int64(opts.SnapshotEvery) == 0 {
			path := opts.intermediatePath(seq)
			h, err := store.WriteSnapshot(path, state)
			if err != nil {
				return err
			}
			if err := record(seq, h, path); err != nil {
				return err
			}
			continue
		}
		digest, err := sim.Digest(state)
		if err != nil {
			return err
		}
		if err := record(seq, store.Header{CurrentTime: state.CurrentTime, Digest: digest}, ""); err != nil {
			return err
		}
	}

	hdr, err = store.WriteSnapshot(opts.Out, state)
	if err != nil {
		return err
	}
	if seq > 0 {
		if err := record(seq, hdr, opts.Out); err != nil {
			return err
		}
	}
	logrus.Infof("Exercise %s finished in %v wall time", state.ID, time.Since(startTime))

	fmt.Fprintf(w, "Exercise       : %s\n", state.ID)
	fmt.Fprintf(w, "Simulated time : %dms\n", state.CurrentTime)
	fmt.Fprintf(w, "Initial        : %s\n", initial)
	fmt.Fprintf(w, "Final          : %s\n", opts.Out)
	fmt.Fprintf(w, "Digest         : %s\n", hdr.Digest)
	e.Metrics.Print(w)
	if st != nil {
		printTraceSummary(w, trace.Summarize(st))
	}
	return nil
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Dispatch Trace ===")
	fmt.Fprintf(w, "Dispatches   : %d (%d skipped)\n", s.TotalDispatches, s.SkippedDispatches)
	fmt.Fprintf(w, "Terminations : %d\n", s.Terminations)
	fmt.Fprintf(w, "Removals     : %d\n", s.Removals)
	fmt.Fprintf(w, "Regions      : %d\n", s.UniqueRegions)
	for _, eventType := range slices.Sorted(maps.Keys(s.EventDistribution)) {
		fmt.Fprintf(w, "  %-28s %d\n", eventType, s.EventDistribution[eventType])
	}
}

// replayExercise re-applies the log at logDB to the snapshot at initialPath
// and fails with ErrReplayDiverged on any digest mismatch.
func replayExercise(ctx context.Context, logDB, initialPath string, w io.Writer) error {
	if _, err := os.Stat(logDB); err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	_, state, err := store.ReadSnapshot(initialPath)
	if err != nil {
		return err
	}
	actionLog, err := store.OpenLog(logDB)
	if err != nil {
		return err
	}
	defer func() { _ = actionLog.Close() }()

	result, err := store.Replay(ctx, sim.NewEngine(), state, actionLog)
	if err != nil {
		return err
	}
	digest, err := sim.Digest(result.Final)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Exercise        : %s\n", result.Final.ID)
	fmt.Fprintf(w, "Replayed        : t=%dms to t=%dms\n", state.CurrentTime, result.Final.CurrentTime)
	fmt.Fprintf(w, "Actions applied : %d\n", result.Applied)
	fmt.Fprintf(w, "Digests checked : %d\n", result.Checked)
	fmt.Fprintf(w, "Final digest    : %s\n", digest)
	for _, m := range result.Mismatches {
		fmt.Fprintf(w, "MISMATCH after action %d: recorded %s, replayed %s\n", m.Seq, m.Recorded, m.Replayed)
	}
	if len(result.Mismatches) > 0 {
		return fmt.Errorf("%w: %d mismatch(es)", ErrReplayDiverged, len(result.Mismatches))
	}
	return nil
}

// inspectSnapshot prints what a snapshot holds, region by region.
func inspectSnapshot(path string, w io.Writer) error {
	hdr, state, err := store.ReadSnapshot(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Exercise       : %s\n", hdr.ExerciseID)
	fmt.Fprintf(w, "Simulated time : %dms\n", hdr.CurrentTime)
	fmt.Fprintf(w, "Digest         : %s\n", hdr.Digest)
	fmt.Fprintf(w, "Random counter : %d\n", state.RandomState.Counter)

	byStatus := make(map[sim.PatientStatus]int)
	for _, p := range state.Patients {
		byStatus[p.VisibleStatus(state.Configuration)]++
	}
	fmt.Fprintf(w, "Patients       : %d\n", len(state.Patients))
	for _, status := range slices.Sorted(maps.Keys(byStatus)) {
		fmt.Fprintf(w, "  %-8s %d\n", status, byStatus[status])
	}
	idle := 0
	for _, v := range state.Vehicles {
		if v.Idle() {
			idle++
		}
	}
	fmt.Fprintf(w, "Vehicles       : %d (%d idle)\n", len(state.Vehicles), idle)
	fmt.Fprintf(w, "Personnel      : %d\n", len(state.Personnel))
	fmt.Fprintf(w, "Material       : %d\n", len(state.Materials))

	for _, id := range slices.Sorted(maps.Keys(state.SimulatedRegions)) {
		r := state.SimulatedRegions[id]
		kinds := make([]string, 0, len(r.Behaviors))
		for _, b := range r.Behaviors {
			kinds = append(kinds, b.BehaviorKind())
		}
		fmt.Fprintf(w, "Region %s (%s)\n", r.ID, r.Name)
		fmt.Fprintf(w, "  behaviors  : %s\n", strings.Join(kinds, ", "))
		fmt.Fprintf(w, "  activities : %d\n", len(r.Activities))
		fmt.Fprintf(w, "  queued     : %d event(s)\n", len(r.InEvents))
	}

	radiograms := make(map[sim.RadiogramStatus]int)
	for _, r := range state.Radiograms {
		radiograms[r.Status]++
	}
	fmt.Fprintf(w, "Radiograms     : %d\n", len(state.Radiograms))
	for _, status := range slices.Sorted(maps.Keys(radiograms)) {
		fmt.Fprintf(w, "  %-12s %d\n", status, radiograms[status])
	}
	return nil
}
