package exact

import (
	"errors"
	"log"
	gosync "sync"
	"sync/atomic"
	"time"
)

// ProcessorState is one step of the per-record processing state machine:
// START -> HASHED -> {DUPLICATE | PROCESSING} -> {SUCCESS | FAILED} -> COMMITTED.
type ProcessorState int

const (
	StateStart ProcessorState = iota
	StateHashed
	StateDuplicate
	StateProcessing
	StateSuccess
	StateFailed
	StateCommitted
)

func (s ProcessorState) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateHashed:
		return "HASHED"
	case StateDuplicate:
		return "DUPLICATE"
	case StateProcessing:
		return "PROCESSING"
	case StateSuccess:
		return "SUCCESS"
	case StateFailed:
		return "FAILED"
	case StateCommitted:
		return "COMMITTED"
	default:
		return "UNKNOWN"
	}
}

// CanTransition reports whether to is a valid successor of s.
func (s ProcessorState) CanTransition(to ProcessorState) bool {
	switch s {
	case StateStart:
		return to == StateHashed || to == StateFailed
	case StateHashed:
		return to == StateDuplicate || to == StateProcessing
	case StateDuplicate:
		return to == StateCommitted
	case StateProcessing:
		return to == StateSuccess || to == StateFailed
	case StateSuccess, StateFailed:
		return to == StateCommitted
	default:
		return false
	}
}

// RecordProcessor runs the full state machine for one record at a time
// per worker. It is shared by all workers: the dedup store, the per-hash
// locks and the run-level auth state live here.
type RecordProcessor struct {
	Store  DedupStateStore
	States StateWriter

	// inflight holds one mutex per hash currently being processed, so
	// two concurrent submissions of the same content cannot both reach
	// PROCESSING.
	inflight gosync.Map // map[string]*gosync.Mutex

	authBroken atomic.Bool
	authErr    atomic.Value // string
}

func NewRecordProcessor(store DedupStateStore, states StateWriter) *RecordProcessor {
	return &RecordProcessor{Store: store, States: states}
}

// AuthBroken reports whether a credential-level auth failure has been
// observed during this run. Once set, in-flight workers drain and every
// remaining record fails fast with the same auth outcome.
func (p *RecordProcessor) AuthBroken() bool {
	return p.authBroken.Load()
}

func (p *RecordProcessor) markAuthBroken(message string) {
	p.authErr.Store(message)
	p.authBroken.Store(true)
}

func (p *RecordProcessor) authMessage() string {
	if v, ok := p.authErr.Load().(string); ok {
		return v
	}
	return "authentication failed"
}

// Process drives one record through the state machine and returns its
// committed outcome. Every failure mode is converted into an outcome;
// nothing escapes to crash the run.
func (p *RecordProcessor) Process(record Record, sink Sink, rc RecordContext) Outcome {
	state := StateStart

	hash, err := record.Hash()
	if err != nil {
		// Unhashable content cannot be deduplicated; report and move on.
		state = StateFailed
		outcome := Outcome{
			Stream:    record.Stream,
			Success:   false,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		}
		p.emit(&state, outcome)
		return outcome
	}
	state = StateHashed

	lock := p.hashLock(hash)
	lock.Lock()
	defer lock.Unlock()

	// Re-check after acquiring the lock: a concurrent worker holding the
	// same hash may have committed while we waited.
	if prior, exists, err := p.Store.Get(hash); err != nil {
		log.Printf("state lookup failed for %s: %v", hash, err)
	} else if exists {
		state = StateDuplicate
		outcome := prior.AsDuplicate()
		outcome.Timestamp = time.Now().UTC()
		p.emit(&state, outcome)
		return outcome
	}

	state = StateProcessing
	outcome := p.runSink(record, sink, rc)
	outcome.Hash = hash
	outcome.Stream = record.Stream
	outcome.Timestamp = time.Now().UTC()
	if outcome.Success {
		state = StateSuccess
	} else {
		state = StateFailed
	}

	if err := p.Store.Put(outcome); err != nil {
		log.Printf("state commit failed for %s: %v", hash, err)
	}
	p.emit(&state, outcome)
	return outcome
}

func (p *RecordProcessor) runSink(record Record, sink Sink, rc RecordContext) Outcome {
	if p.AuthBroken() {
		return Outcome{Success: false, Error: p.authMessage()}
	}

	payload, err := sink.MapRecord(record, rc)
	if err != nil {
		var skip *SkipRecord
		if errors.As(err, &skip) {
			log.Printf("%s skipped: %s", record.Stream, skip.Reason)
			return Outcome{Success: false, Error: err.Error()}
		}
		return Outcome{Success: false, Error: err.Error()}
	}

	result, err := sink.Upsert(payload, rc)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			// A broken credential degrades every subsequent record with
			// the same clear error instead of crashing the run.
			p.markAuthBroken(err.Error())
			return Outcome{Success: false, Error: err.Error()}
		}
		return Outcome{Success: false, Error: err.Error()}
	}

	return Outcome{
		RemoteID: result.RemoteID,
		Success:  result.Success,
		Extra:    result.Extra,
	}
}

func (p *RecordProcessor) emit(state *ProcessorState, outcome Outcome) {
	if !state.CanTransition(StateCommitted) {
		log.Printf("invalid commit from state %s for %s", *state, outcome.Hash)
	}
	*state = StateCommitted
	if p.States != nil {
		p.States.Emit(outcome)
	}
}

func (p *RecordProcessor) hashLock(hash string) *gosync.Mutex {
	lock, _ := p.inflight.LoadOrStore(hash, &gosync.Mutex{})
	return lock.(*gosync.Mutex)
}
