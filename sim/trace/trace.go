package trace

// TraceLevel controls the verbosity of dispatch tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDispatch captures every dispatch, termination and removal.
	TraceLevelDispatch TraceLevel = "dispatch"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:     true,
	TraceLevelDispatch: true,
	"":                 true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects records during a run.
type SimulationTrace struct {
	Config       TraceConfig
	Dispatches   []DispatchRecord
	Terminations []TerminationRecord
	Removals     []RemovalRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:       config,
		Dispatches:   make([]DispatchRecord, 0),
		Terminations: make([]TerminationRecord, 0),
		Removals:     make([]RemovalRecord, 0),
	}
}

// Enabled reports whether records are kept. Safe on a nil trace.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelDispatch
}

// RecordDispatch appends a dispatch record.
func (st *SimulationTrace) RecordDispatch(record DispatchRecord) {
	if !st.Enabled() {
		return
	}
	st.Dispatches = append(st.Dispatches, record)
}

// RecordTermination appends an activity termination record.
func (st *SimulationTrace) RecordTermination(record TerminationRecord) {
	if !st.Enabled() {
		return
	}
	st.Terminations = append(st.Terminations, record)
}

// RecordRemoval appends a behavior removal record.
func (st *SimulationTrace) RecordRemoval(record RemovalRecord) {
	if !st.Enabled() {
		return
	}
	st.Removals = append(st.Removals, record)
}
