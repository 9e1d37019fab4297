package churn

import (
	"sync"
	"time"

	"github.com/DigiBanks99/lopen/internal/clock"
)

// Level is a back-pressure escalation level.
type Level string

const (
	Normal               Level = "Normal"
	Warning              Level = "Warning"
	InterventionRequired Level = "InterventionRequired"
	Halted               Level = "Halted"
)

var levelOrder = map[Level]int{
	Normal:               0,
	Warning:              1,
	InterventionRequired: 2,
	Halted:               3,
}

// Transition records one back-pressure level change.
type Transition struct {
	From   Level
	To     Level
	Reason string
	At     time.Time
}

// BackPressure aggregates a failure count into Normal -> Warning ->
// InterventionRequired -> Halted by threshold (§4.E). Thresholds are
// ascending failure counts at which each level is entered.
type BackPressure struct {
	mu               sync.Mutex
	clock            clock.Clock
	warnAt           int
	interventionAt   int
	haltAt           int
	current          Level
	history          []Transition
}

// NewBackPressure creates a BackPressure state machine. The three
// thresholds must be non-decreasing; a zero value disables that level
// (it is simply never reached on the way to the next one).
func NewBackPressure(clk clock.Clock, warnAt, interventionAt, haltAt int) *BackPressure {
	return &BackPressure{clock: clk, warnAt: warnAt, interventionAt: interventionAt, haltAt: haltAt, current: Normal}
}

// Level returns the current escalation level.
func (b *BackPressure) Level() Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Observe feeds in the latest failure count and advances (or holds) the
// level accordingly. It never skips backwards on its own — only reset()
// returns to Normal.
func (b *BackPressure) Observe(failureCount int, reason string) Level {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := Normal
	switch {
	case b.haltAt > 0 && failureCount >= b.haltAt:
		next = Halted
	case b.interventionAt > 0 && failureCount >= b.interventionAt:
		next = InterventionRequired
	case b.warnAt > 0 && failureCount >= b.warnAt:
		next = Warning
	}

	if levelOrder[next] > levelOrder[b.current] {
		b.record(b.current, next, reason)
		b.current = next
	}
	return b.current
}

// Reset returns the state machine to Normal and records the transition.
func (b *BackPressure) Reset(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != Normal {
		b.record(b.current, Normal, reason)
	}
	b.current = Normal
}

func (b *BackPressure) record(from, to Level, reason string) {
	b.history = append(b.history, Transition{From: from, To: to, Reason: reason, At: b.clock.Now()})
}

// History returns a copy of all recorded transitions, oldest first.
func (b *BackPressure) History() []Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Transition, len(b.history))
	copy(out, b.history)
	return out
}
