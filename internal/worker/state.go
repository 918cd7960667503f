package worker

// State is a step of the iteration state machine.
//
//	Spawned → HeaderRead → DailyRowsStreaming → UnitStatsHeaderRead →
//	UnitStatsStreaming → ProcessExited → Persisted → Done
//
// Aborted is reachable from every non-terminal state.
type State int

const (
	Spawned State = iota + 1
	HeaderRead
	DailyRowsStreaming
	UnitStatsHeaderRead
	UnitStatsStreaming
	ProcessExited
	Persisted
	Done
	Aborted
)

var stateNames = map[State]string{
	Spawned:             "spawned",
	HeaderRead:          "header_read",
	DailyRowsStreaming:  "daily_rows_streaming",
	UnitStatsHeaderRead: "unit_stats_header_read",
	UnitStatsStreaming:  "unit_stats_streaming",
	ProcessExited:       "process_exited",
	Persisted:           "persisted",
	Done:                "done",
	Aborted:             "aborted",
}

// String returns the snake_case state name.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Done || s == Aborted
}
