// Package lopenerr defines the sum-type error kinds surfaced by the core, per
// the error handling design: every user-visible error carries what failed,
// why, and how to fix it. Sentinels are checked with errors.Is/errors.As;
// nothing in this package panics.
package lopenerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", ErrX) at the call
// site so errors.Is keeps working through layers of context.
var (
	// ErrInvalidNesting is returned by the task tree when a child of the
	// wrong type is added to a parent. Programmer error — never recovered
	// inside the tree.
	ErrInvalidNesting = errors.New("invalid nesting")
	// ErrInvalidTransition is returned by the task tree or the workflow
	// engine when a state/step transition is not in the legal set.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStateCorruption names a persisted file that fails to parse. The
	// session store does not return it: it quarantines such a file itself
	// and reports "no session".
	ErrStateCorruption = errors.New("state corruption")
	// ErrStorageCritical is returned by the session store when a write
	// fails for a reason that is not recoverable by retrying (disk full,
	// permission denied). The orchestrator treats this as a halting
	// condition.
	ErrStorageCritical = errors.New("storage critical")
	// ErrOracleTimeout names an oracle dispatch that does not return a
	// verdict within its bounded timeout. oracle.Verify wraps the transport
	// error itself and does not return this sentinel.
	ErrOracleTimeout = errors.New("oracle timeout")
	// ErrOracleParse names an oracle response that cannot be parsed into a
	// structured verdict. oracle.Verify wraps the parse error itself and does
	// not return this sentinel.
	ErrOracleParse = errors.New("oracle parse failure")
	// ErrLLMTransient marks an LLM transport failure the outer loop should
	// retry on the next iteration.
	ErrLLMTransient = errors.New("llm transient failure")
	// ErrLLMFatal marks an LLM transport failure that should propagate after
	// a best-effort save.
	ErrLLMFatal = errors.New("llm fatal failure")
	// ErrCancelled marks a cancellation that must propagate immediately
	// with no save.
	ErrCancelled = errors.New("cancelled")
	// ErrOracleGateNotSatisfied is returned by update_task_status(complete)
	// when no matching verify_* call with outcome=Success exists in the
	// current iteration's audit log.
	ErrOracleGateNotSatisfied = errors.New("oracle gate not satisfied")
)

// Detailed wraps a sentinel kind with the three required pieces of a
// user-visible message: what failed, why, and how to fix it.
type Detailed struct {
	Kind       error
	What       string
	Why        string
	Fix        string
	Corrective string // optional corrective instruction for the next LLM prompt
}

func (e *Detailed) Error() string {
	msg := fmt.Sprintf("%s: %s — %s (fix: %s)", e.Kind, e.What, e.Why, e.Fix)
	if e.Corrective != "" {
		msg += fmt.Sprintf(" [corrective: %s]", e.Corrective)
	}
	return msg
}

func (e *Detailed) Unwrap() error { return e.Kind }

// New builds a Detailed error for the given kind.
func New(kind error, what, why, fix string) *Detailed {
	return &Detailed{Kind: kind, What: what, Why: why, Fix: fix}
}

// WithCorrective attaches a corrective instruction string, used by guardrail
// Warn results that feed the next prompt's soft-correction block.
func (e *Detailed) WithCorrective(instruction string) *Detailed {
	e.Corrective = instruction
	return e
}
