package exact

import "time"

// Outcome is the durable, committed result of processing one record.
// Exactly one Outcome is emitted per input record; it is immutable once
// committed except for the duplicate replay path, which reuses a prior
// Outcome with IsDuplicate set.
type Outcome struct {
	Hash        string                 `json:"hash"`
	Stream      string                 `json:"stream,omitempty"`
	RemoteID    string                 `json:"remote_id,omitempty"`
	Success     bool                   `json:"success"`
	IsDuplicate bool                   `json:"is_duplicate,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// AsDuplicate returns a copy of a prior Outcome marked as a replay.
func (o Outcome) AsDuplicate() Outcome {
	replay := o
	replay.IsDuplicate = true
	return replay
}

// StateWriter receives every committed Outcome. The CLI implementation
// writes one JSON line per outcome to stdout for the host process.
type StateWriter interface {
	Emit(outcome Outcome)
}

// StateWriterFunc adapts a function to the StateWriter interface.
type StateWriterFunc func(outcome Outcome)

func (f StateWriterFunc) Emit(outcome Outcome) { f(outcome) }
