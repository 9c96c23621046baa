package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/exercise-sim/exercise-sim/sim/trace"
)

var (
	// CLI flags shared by every subcommand
	logLevel string // Log verbosity level

	// CLI flags for run
	scenarioPath  string // Scenario YAML file
	ticks         int    // Number of "advance simulation" actions to apply
	tickInterval  int64  // Simulated milliseconds per action
	outPath       string // Final snapshot file
	initialPath   string // Initial snapshot file, derived from --out when empty
	logDBPath     string // SQLite action log
	snapshotEvery int    // Write and index an intermediate snapshot every N actions (0 = never)
	traceLevel    string // Dispatch trace verbosity

	// CLI flags for replay
	replayInitial string // Initial snapshot to replay from
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "exercise-sim",
	Short: "Deterministic simulation core for incident-command exercises",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runCmd builds a scenario and advances it, logging every action
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build a scenario and run the exercise simulation",
	Run: func(cmd *cobra.Command, args []string) {
		if scenarioPath == "" {
			logrus.Fatalf("Scenario not provided. Exiting simulation.")
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Unknown trace level %q. Valid: none, dispatch", traceLevel)
		}
		opts := runOptions{
			ScenarioPath:  scenarioPath,
			Ticks:         ticks,
			Interval:      tickInterval,
			Out:           outPath,
			Initial:       initialPath,
			LogDB:         logDBPath,
			SnapshotEvery: snapshotEvery,
			TraceLevel:    trace.TraceLevel(traceLevel),
		}
		if err := runExercise(cmd.Context(), opts, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// replayCmd re-applies a recorded action log and compares digests
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay an action log from its initial snapshot and verify every recorded digest",
	Run: func(cmd *cobra.Command, args []string) {
		if logDBPath == "" || replayInitial == "" {
			logrus.Fatalf("Both --log-db and --initial are required.")
		}
		if err := replayExercise(cmd.Context(), logDBPath, replayInitial, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("Replay failed: %v", err)
		}
	},
}

// inspectCmd prints a summary of a snapshot file
var inspectCmd = &cobra.Command{
	Use:   "inspect <snapshot.zst>",
	Short: "Print a summary of a snapshot file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := inspectSnapshot(args[0], cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("Inspect failed: %v", err)
		}
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario YAML file")
	runCmd.Flags().IntVar(&ticks, "ticks", 60, "Number of simulation actions to apply")
	runCmd.Flags().Int64Var(&tickInterval, "interval", 1000, "Simulated milliseconds per action")
	runCmd.Flags().StringVar(&outPath, "out", "exercise.zst", "Final snapshot file")
	runCmd.Flags().StringVar(&initialPath, "initial-out", "", "Initial snapshot file (default: <out>.initial.zst)")
	runCmd.Flags().StringVar(&logDBPath, "log-db", "", "SQLite action log for replay (empty disables logging)")
	runCmd.Flags().IntVar(&snapshotEvery, "snapshot-every", 0, "Write an intermediate snapshot every N actions (0 = never)")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Dispatch trace verbosity (none, dispatch)")

	replayCmd.Flags().StringVar(&logDBPath, "log-db", "", "SQLite action log written by run")
	replayCmd.Flags().StringVar(&replayInitial, "initial", "", "Initial snapshot written by run")

	rootCmd.AddCommand(runCmd, replayCmd, inspectCmd)
}
