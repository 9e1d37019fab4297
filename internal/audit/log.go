// Package audit implements the tool-call audit log: an append-only record
// of every tool invocation with outcome and timing, safe for concurrent
// append from multiple tool handlers executing within one LLM invocation.
//
// Grounded on the teacher's StateTransition/history idiom
// (internal/agents/core/state_machine.go appends StateTransition records
// under a mutex and hands out copies via History()) but implemented here as
// a genuinely lock-free compare-and-swap over an immutable slice, per §9's
// "prefer a lock-free append over an immutable list" design note — multiple
// tool handlers append concurrently and none of them may block the others.
package audit

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of one tool invocation.
type Outcome string

const (
	Success Outcome = "Success"
	Failure Outcome = "Failure"
	Timeout Outcome = "Timeout"
)

// Record is one immutable tool-call audit entry.
type Record struct {
	ID           string
	IterationID  string
	ToolName     string
	Arguments    map[string]string
	Timestamp    time.Time
	Duration     time.Duration
	Outcome      Outcome
	ErrorMessage string
}

// Log is a lock-free append-only log. The zero value is not usable; use New.
type Log struct {
	tail atomic.Pointer[[]Record]

	// Mirror, if set, receives a best-effort copy of every appended record.
	// A mirror write failure never blocks or fails Append; see SQLiteMirror.
	Mirror *SQLiteMirror
}

// New returns an empty Log.
func New() *Log {
	l := &Log{}
	empty := make([]Record, 0, 64)
	l.tail.Store(&empty)
	return l
}

// Append records a tool invocation. Arguments is copied defensively so the
// caller's map can keep being mutated after Append returns. Safe to call
// concurrently from any number of goroutines; the append is linearized via
// compare-and-swap on the tail pointer, never a mutex.
func (l *Log) Append(iterationID, toolName string, arguments map[string]string, start time.Time, duration time.Duration, outcome Outcome, errMsg string) Record {
	args := make(map[string]string, len(arguments))
	for k, v := range arguments {
		args[k] = v
	}
	rec := Record{
		ID:           uuid.New().String(),
		IterationID:  iterationID,
		ToolName:     toolName,
		Arguments:    args,
		Timestamp:    start,
		Duration:     duration,
		Outcome:      outcome,
		ErrorMessage: errMsg,
	}

	for {
		oldSlice := l.tail.Load()
		next := make([]Record, len(*oldSlice)+1)
		copy(next, *oldSlice)
		next[len(next)-1] = rec
		if l.tail.CompareAndSwap(oldSlice, &next) {
			if l.Mirror != nil {
				if b, err := json.Marshal(args); err == nil {
					_ = l.Mirror.Mirror(rec, string(b))
				}
			}
			return rec
		}
		// Lost the race with another appender; retry against the fresh tail.
	}
}

// Snapshot returns a consistent point-in-time copy of every record appended
// so far. Readers never observe a torn record: the returned slice is a
// distinct backing array from whatever Append is concurrently building.
func (l *Log) Snapshot() []Record {
	cur := l.tail.Load()
	out := make([]Record, len(*cur))
	copy(out, *cur)
	return out
}

// ForIteration returns a snapshot of records matching iterationID, in
// append order.
func (l *Log) ForIteration(iterationID string) []Record {
	all := l.Snapshot()
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.IterationID == iterationID {
			out = append(out, r)
		}
	}
	return out
}

// CountMatching returns how many records in iterationID match pred.
func (l *Log) CountMatching(iterationID string, pred func(Record) bool) int {
	n := 0
	for _, r := range l.ForIteration(iterationID) {
		if pred(r) {
			n++
		}
	}
	return n
}

// HasSuccess reports whether a record matching toolName and scopeID (as an
// argument value, the key it is stored under left to the caller via
// argKey) succeeded in iterationID. Used by the oracle gate (§4.G, §8
// property 8: update_task_status(complete, T) requires a prior
// verify_task_completion(T) with Outcome=Success in the same iteration).
func (l *Log) HasSuccess(iterationID, toolName, argKey, scopeID string) bool {
	for _, r := range l.ForIteration(iterationID) {
		if r.ToolName == toolName && r.Outcome == Success && r.Arguments[argKey] == scopeID {
			return true
		}
	}
	return false
}
