// Package trace provides dispatch-trace recording for simulated-region analysis.
// It has no dependencies on sim/ and stores pure data types.
package trace

// DispatchRecord captures one event delivered to one behavior.
type DispatchRecord struct {
	Clock        int64
	RegionID     string
	BehaviorID   string
	BehaviorKind string
	EventType    string
	Skipped      bool // behavior or event tag unknown to the registry
}

// TerminationRecord captures an activity leaving its region.
type TerminationRecord struct {
	Clock        int64
	RegionID     string
	ActivityID   string
	ActivityKind string
}

// RemovalRecord captures a behavior detached from its region.
type RemovalRecord struct {
	Clock        int64
	RegionID     string
	BehaviorID   string
	BehaviorKind string
}
