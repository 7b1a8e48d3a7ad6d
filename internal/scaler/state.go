package scaler

import (
	"time"

	"github.com/Iron-Ham/qscaler/internal/scaling"
)

// State is a step of the tick state machine.
type State string

const (
	StateIdle        State = "idle"
	StateSampling    State = "sampling"
	StateDeciding    State = "deciding"
	StateNoChange    State = "no_change"
	StateApplying    State = "applying"
	StateApplied     State = "applied"
	StateRollingBack State = "rolling_back"
)

// Outcome is how a tick ended.
type Outcome string

const (
	// OutcomeSkipped means the policy declined to act (e.g. CPU too high).
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means the persisted count could not be read; nothing was touched.
	OutcomeFailed Outcome = "failed"
	// OutcomeUnchanged means the target equalled the persisted count.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeApplied means the new count was written and the supervisor reloaded.
	OutcomeApplied Outcome = "applied"
	// OutcomeRolledBack means applying failed and the previous count was restored.
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeDegraded means applying failed and so did restoring the previous count.
	OutcomeDegraded Outcome = "degraded"
	// OutcomePlanned is only produced by Plan: a change would have been applied.
	OutcomePlanned Outcome = "planned"
)

// Outcomes lists the outcomes a real tick can end in.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomeSkipped,
		OutcomeFailed,
		OutcomeUnchanged,
		OutcomeApplied,
		OutcomeRolledBack,
		OutcomeDegraded,
	}
}

// TickResult describes one pass through the state machine.
type TickResult struct {
	Seq      uint64           `json:"tick" yaml:"tick"`
	Start    time.Time        `json:"start" yaml:"start"`
	Duration time.Duration    `json:"duration" yaml:"duration"`
	Metrics  scaling.Metrics  `json:"metrics" yaml:"metrics"`
	Decision scaling.Decision `json:"decision" yaml:"decision"`

	// Previous is the persisted count read during the tick. Valid when
	// CountKnown is set.
	Previous   int  `json:"previous" yaml:"previous"`
	Target     int  `json:"target" yaml:"target"`
	CountKnown bool `json:"count_known" yaml:"count_known"`

	Outcome Outcome `json:"outcome" yaml:"outcome"`
	States  []State `json:"states" yaml:"states"`
	Err     error   `json:"-" yaml:"-"`
}

// Error returns the tick error message, or "".
func (r TickResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Changed reports whether the tick attempted to change the worker count.
func (r TickResult) Changed() bool {
	switch r.Outcome {
	case OutcomeApplied, OutcomeRolledBack, OutcomeDegraded:
		return true
	default:
		return false
	}
}
