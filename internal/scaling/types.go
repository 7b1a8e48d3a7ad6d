package scaling

import (
	"fmt"

	"github.com/Iron-Ham/qscaler/internal/errors"
)

// Kind distinguishes a decision that changes nothing from one that names a
// target worker count.
type Kind string

const (
	// KindSkip means the tick must not touch the supervisor.
	KindSkip Kind = "skip"

	// KindTarget means the decision carries a target worker count.
	KindTarget Kind = "target"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Reasons attached to skip decisions.
const (
	// ReasonCPUHigh is used when host CPU is at or above the ceiling.
	ReasonCPUHigh = "cpu-high"

	// ReasonCPUUnavailable is used when the CPU sample could not be taken.
	ReasonCPUUnavailable = "cpu-unavailable"
)

// DefaultCPUCeiling is the CPU percentage at or above which scaling is
// suspended.
const DefaultCPUCeiling = 75.0

// Bounds limits the target worker count. It does not change for the lifetime
// of the process.
type Bounds struct {
	// ScaleFactor is the number of queued messages handled per worker.
	ScaleFactor int `json:"scale_factor" yaml:"scale_factor"`

	// MinProcs is the lowest target ever produced.
	MinProcs int `json:"min_procs" yaml:"min_procs"`

	// MaxProcs is the highest target ever produced.
	MaxProcs int `json:"max_procs" yaml:"max_procs"`
}

// Validate reports the first bound that cannot produce a sensible target.
func (b Bounds) Validate() error {
	if b.ScaleFactor <= 0 {
		return errors.NewValidationError("must be greater than zero").
			WithField("scale_factor").WithValue(b.ScaleFactor)
	}
	if b.MinProcs < 0 {
		return errors.NewValidationError("must be non-negative").
			WithField("min_procs").WithValue(b.MinProcs)
	}
	if b.MaxProcs < b.MinProcs {
		return errors.NewValidationError(fmt.Sprintf("must be at least min_procs (%d)", b.MinProcs)).
			WithField("max_procs").WithValue(b.MaxProcs)
	}
	return nil
}

// Clamp limits n to [MinProcs, MaxProcs].
func (b Bounds) Clamp(n int) int {
	return max(b.MinProcs, min(n, b.MaxProcs))
}

// Metrics is one observation of the host and the queue.
type Metrics struct {
	// CPUPercent is host CPU usage across all cores, in [0, 100].
	CPUPercent float64 `json:"cpu_percent" yaml:"cpu_percent"`

	// QueueDepth is the approximate number of visible queued messages.
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`

	// QueueDepthFallback is set when the queue could not be read and
	// QueueDepth was taken as zero.
	QueueDepthFallback bool `json:"queue_depth_fallback" yaml:"queue_depth_fallback"`
}

// Decision is the result of evaluating the policy against one observation.
type Decision struct {
	// Kind tells whether Target is meaningful.
	Kind Kind `json:"kind" yaml:"kind"`

	// Reason explains a skip. Empty for target decisions.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Target is the clamped worker count. Zero for skips.
	Target int `json:"target" yaml:"target"`

	// Raw is the unclamped queue_depth / scale_factor value.
	Raw int `json:"raw" yaml:"raw"`
}

// Skip returns a skip decision with the given reason.
func Skip(reason string) Decision {
	return Decision{Kind: KindSkip, Reason: reason}
}

// IsSkip reports whether the decision leaves the supervisor alone.
func (d Decision) IsSkip() bool {
	return d.Kind == KindSkip
}

// String renders the decision for log lines and status output.
func (d Decision) String() string {
	if d.IsSkip() {
		return fmt.Sprintf("skip (%s)", d.Reason)
	}
	return fmt.Sprintf("target %d (raw %d)", d.Target, d.Raw)
}
