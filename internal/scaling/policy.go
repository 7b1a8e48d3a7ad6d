package scaling

// Option configures a Policy.
type Option func(*Policy)

// WithCPUCeiling sets the CPU percentage at or above which every decision is
// a skip.
func WithCPUCeiling(pct float64) Option {
	return func(p *Policy) { p.cpuCeiling = pct }
}

// Policy pairs fixed bounds with a CPU ceiling. It holds no mutable state and
// is safe for concurrent use.
type Policy struct {
	bounds     Bounds
	cpuCeiling float64
}

// NewPolicy creates a Policy for the given bounds.
// The CPU ceiling defaults to DefaultCPUCeiling.
func NewPolicy(b Bounds, opts ...Option) *Policy {
	p := &Policy{
		bounds:     b,
		cpuCeiling: DefaultCPUCeiling,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bounds returns the bounds the policy was built with.
func (p *Policy) Bounds() Bounds {
	return p.bounds
}

// CPUCeiling returns the configured CPU ceiling.
func (p *Policy) CPUCeiling() float64 {
	return p.cpuCeiling
}

// Evaluate applies Decide with the policy's bounds and ceiling.
func (p *Policy) Evaluate(m Metrics) Decision {
	return Decide(m, p.bounds, p.cpuCeiling)
}

// Decide maps one observation to a decision.
//
// CPU at or above cpuCeiling always skips, whatever the queue depth. Otherwise
// the target is queue depth divided by the scale factor (floor), clamped into
// the bounds. Decide is monotonic non-decreasing in queue depth for a fixed
// CPU reading below the ceiling.
//
// b must satisfy Bounds.Validate.
func Decide(m Metrics, b Bounds, cpuCeiling float64) Decision {
	if m.CPUPercent >= cpuCeiling {
		return Skip(ReasonCPUHigh)
	}

	depth := max(m.QueueDepth, 0)
	raw := depth / b.ScaleFactor
	return Decision{
		Kind:   KindTarget,
		Target: b.Clamp(raw),
		Raw:    raw,
	}
}
