// Package scaling turns a CPU and queue-depth observation into a target
// worker count.
//
// The core types are:
//
//   - [Bounds]: scale factor and the [min, max] range every target falls in
//   - [Metrics]: one observation of host CPU and queue depth
//   - [Decision]: either a skip with a reason or a clamped target
//   - [Policy]: bounds plus CPU ceiling, evaluated once per tick
//
// # Usage
//
//	policy := scaling.NewPolicy(
//	    scaling.Bounds{ScaleFactor: 100, MinProcs: 2, MaxProcs: 10},
//	    scaling.WithCPUCeiling(75),
//	)
//
//	d := policy.Evaluate(scaling.Metrics{CPUPercent: 40, QueueDepth: 5000})
//	// d.Target == 10
//
// # Thread Safety
//
// All functions in this package are pure; Policy is immutable after
// construction.
package scaling
