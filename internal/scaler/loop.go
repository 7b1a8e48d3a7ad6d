// Package scaler runs the control loop: sample metrics, decide a worker
// count, persist it, reload the supervisor, and roll back when the reload
// cannot be confirmed.
package scaler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/Iron-Ham/qscaler/internal/errors"
	"github.com/Iron-Ham/qscaler/internal/logging"
	"github.com/Iron-Ham/qscaler/internal/metrics"
	"github.com/Iron-Ham/qscaler/internal/scaling"
	"github.com/Iron-Ham/qscaler/internal/supervisor"
)

const defaultQueueWarnInterval = 5 * time.Minute

// StateFunc observes every state the loop enters.
type StateFunc func(seq uint64, s State)

// Option configures a Loop.
type Option func(*Loop)

// WithCPUCeiling sets the CPU percentage at or above which ticks are skipped.
func WithCPUCeiling(pct float64) Option {
	return func(l *Loop) { l.cpuCeiling = pct }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithRegisterer registers the loop's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Loop) { l.registerer = reg }
}

// WithStateHook sets a callback run on every state transition.
func WithStateHook(fn StateFunc) Option {
	return func(l *Loop) { l.onState = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithQueueWarnInterval limits how often a failing queue is logged at WARN.
// Failures in between are logged at DEBUG.
func WithQueueWarnInterval(d time.Duration) Option {
	return func(l *Loop) { l.queueWarn = rate.Sometimes{First: 1, Interval: d} }
}

// Loop is the scaling control loop. Ticks never overlap: Tick serialises
// callers and Run handles one trigger request at a time.
type Loop struct {
	cpu     metrics.CPUSampler
	queue   metrics.QueueSource
	queueID string
	store   supervisor.Store
	policy  *scaling.Policy

	cpuCeiling float64
	logger     *logging.Logger
	registerer prometheus.Registerer
	collectors *Collectors
	onState    StateFunc
	now        func() time.Time
	queueWarn  rate.Sometimes

	seq    atomic.Uint64
	tickMu sync.Mutex

	mu         sync.Mutex
	expected   int
	expectedOK bool
	last       *TickResult
}

// New creates a Loop. The bounds are validated here, so a loop that exists
// always has a usable policy.
func New(cpu metrics.CPUSampler, queue metrics.QueueSource, queueID string, store supervisor.Store, bounds scaling.Bounds, opts ...Option) (*Loop, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}

	l := &Loop{
		cpu:        cpu,
		queue:      queue,
		queueID:    queueID,
		store:      store,
		cpuCeiling: scaling.DefaultCPUCeiling,
		logger:     logging.NopLogger(),
		collectors: NewCollectors(),
		now:        time.Now,
		queueWarn:  rate.Sometimes{First: 1, Interval: defaultQueueWarnInterval},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.policy = scaling.NewPolicy(bounds, scaling.WithCPUCeiling(l.cpuCeiling))
	l.logger = l.logger.WithComponent("scaler")

	if l.registerer != nil {
		if err := l.collectors.Register(l.registerer); err != nil {
			return nil, errors.Wrap(err, "registering metrics")
		}
	}
	return l, nil
}

// Policy returns the policy the loop decides with.
func (l *Loop) Policy() *scaling.Policy {
	return l.policy
}

// Collectors returns the loop's Prometheus collectors.
func (l *Loop) Collectors() *Collectors {
	return l.collectors
}

// Expected returns the count the loop last read or wrote. ok is false
// before the first successful read and after a rollback failed, when the
// file content is unknown.
func (l *Loop) Expected() (count int, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expected, l.expectedOK
}

// clearExpected marks the persisted count as unknown until the next tick
// reads it again.
func (l *Loop) clearExpected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expectedOK = false
}

func (l *Loop) setExpected(n int) {
	l.mu.Lock()
	l.expected, l.expectedOK = n, true
	l.mu.Unlock()
}

// Last returns the most recent tick result.
func (l *Loop) Last() (TickResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return TickResult{}, false
	}
	return *l.last, true
}

// Run ticks whenever trig asks, until ctx is cancelled or the trigger's
// channel is closed. Requests arriving while a tick runs are dropped by the
// trigger.
func (l *Loop) Run(ctx context.Context, trig Trigger) error {
	l.enter(nil, 0, StateIdle)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-trig.Requests():
			if !ok {
				return nil
			}
			res := l.Tick(ctx)
			if req.reply != nil {
				req.reply <- res
			}
		}
	}
}

// Tick runs one full pass of the state machine. Every failure is contained
// in the returned result; nothing escapes as a panic or aborts the loop.
func (l *Loop) Tick(ctx context.Context) TickResult {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	res := TickResult{Seq: l.seq.Add(1), Start: l.now()}
	log := l.logger.WithTick(res.Seq)

	l.enter(&res, res.Seq, StateSampling)
	m, cpuErr := l.sample(ctx, log)
	res.Metrics = m

	l.enter(&res, res.Seq, StateDeciding)
	if cpuErr != nil {
		res.Decision = scaling.Skip(scaling.ReasonCPUUnavailable)
		res.Err = cpuErr
	} else {
		res.Decision = l.policy.Evaluate(m)
	}
	if res.Decision.IsSkip() {
		res.Outcome = OutcomeSkipped
		return l.finish(&res, log)
	}

	prev, err := l.store.ReadCount(ctx)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return l.finish(&res, log)
	}
	res.Previous, res.Target, res.CountKnown = prev, res.Decision.Target, true
	l.setExpected(prev)

	if res.Target == prev {
		l.enter(&res, res.Seq, StateNoChange)
		res.Outcome = OutcomeUnchanged
		return l.finish(&res, log)
	}

	// Once the file is touched the sequence runs to completion, rollback
	// included, even if ctx is cancelled meanwhile.
	ctx = context.WithoutCancel(ctx)

	l.enter(&res, res.Seq, StateApplying)
	applyErr := l.apply(ctx, res.Target)
	if applyErr == nil {
		l.enter(&res, res.Seq, StateApplied)
		res.Outcome = OutcomeApplied
		return l.finish(&res, log)
	}

	log.Warn("apply failed, rolling back", "previous", prev, "target", res.Target, "error", applyErr)
	l.enter(&res, res.Seq, StateRollingBack)
	if rbErr := l.apply(ctx, prev); rbErr != nil {
		res.Outcome = OutcomeDegraded
		res.Err = errors.NewRollbackError(prev, res.Target, applyErr, rbErr)
		l.clearExpected()
		return l.finish(&res, log)
	}
	res.Outcome = OutcomeRolledBack
	res.Err = applyErr
	return l.finish(&res, log)
}

// Plan samples and decides like a tick, and reads the persisted count, but
// never writes or reloads. It does not count as a tick.
func (l *Loop) Plan(ctx context.Context) TickResult {
	res := TickResult{Start: l.now()}
	m, cpuErr := l.sample(ctx, l.logger)
	res.Metrics = m

	if cpuErr != nil {
		res.Decision = scaling.Skip(scaling.ReasonCPUUnavailable)
		res.Err = cpuErr
	} else {
		res.Decision = l.policy.Evaluate(m)
	}

	prev, err := l.store.ReadCount(ctx)
	switch {
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = err
	case res.Decision.IsSkip():
		res.Previous, res.CountKnown = prev, true
		res.Target = prev
		res.Outcome = OutcomeSkipped
	default:
		res.Previous, res.Target, res.CountKnown = prev, res.Decision.Target, true
		res.Outcome = OutcomeUnchanged
		if res.Target != prev {
			res.Outcome = OutcomePlanned
		}
	}
	res.Duration = l.now().Sub(res.Start)
	return res
}

// sample reads CPU and queue depth concurrently. A queue failure is not an
// error: the depth falls back to 0 and the metrics say so.
func (l *Loop) sample(ctx context.Context, log *logging.Logger) (scaling.Metrics, error) {
	var (
		m        scaling.Metrics
		cpuErr   error
		queueErr error
		depth    int
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		m.CPUPercent, cpuErr = l.cpu.SampleCPU(ctx)
	})
	wg.Go(func() {
		depth, queueErr = l.queue.QueueDepth(ctx, l.queueID)
	})
	wg.Wait()

	if queueErr != nil {
		m.QueueDepthFallback = true
		warned := false
		l.queueWarn.Do(func() {
			warned = true
			log.Warn("queue depth unavailable, assuming empty queue", "queue", l.queueID, "error", queueErr)
		})
		if !warned {
			log.Debug("queue depth unavailable, assuming empty queue", "queue", l.queueID, "error", queueErr)
		}
	} else {
		m.QueueDepth = max(depth, 0)
	}

	if cpuErr != nil {
		log.Warn("cpu sample failed", "error", cpuErr)
	}
	return m, cpuErr
}

// apply persists n and reloads. The expected count is updated first so the
// drift watcher does not report the loop's own write.
func (l *Loop) apply(ctx context.Context, n int) error {
	l.setExpected(n)
	if err := l.store.WriteCount(ctx, n); err != nil {
		return err
	}
	return l.store.Reload(ctx)
}

func (l *Loop) enter(res *TickResult, seq uint64, s State) {
	if res != nil {
		res.States = append(res.States, s)
	}
	if l.onState != nil {
		l.onState(seq, s)
	}
}

// finish logs the tick summary, records metrics and returns to idle.
func (l *Loop) finish(res *TickResult, log *logging.Logger) TickResult {
	res.Duration = l.now().Sub(res.Start)
	l.enter(res, res.Seq, StateIdle)

	b := l.policy.Bounds()
	args := []any{
		"outcome", string(res.Outcome),
		"reason", res.Decision.Reason,
		"cpu_percent", res.Metrics.CPUPercent,
		"cpu_ceiling", l.policy.CPUCeiling(),
		"queue_depth", res.Metrics.QueueDepth,
		"queue_depth_fallback", res.Metrics.QueueDepthFallback,
		"scale_factor", b.ScaleFactor,
		"min_procs", b.MinProcs,
		"max_procs", b.MaxProcs,
		"previous", knownOrNil(res.CountKnown, res.Previous),
		"target", knownOrNil(res.CountKnown, res.Target),
		"duration_ms", res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		args = append(args, "error", res.Err.Error())
	}
	if res.Outcome == OutcomeDegraded {
		args = append(args, "degraded", true)
	}
	log.Log(outcomeLevel(res.Outcome), "tick", args...)

	l.collectors.observe(*res)

	l.mu.Lock()
	last := *res
	l.last = &last
	l.mu.Unlock()

	return *res
}

func knownOrNil(known bool, n int) any {
	if !known {
		return nil
	}
	return n
}

func outcomeLevel(o Outcome) string {
	switch o {
	case OutcomeRolledBack:
		return logging.LevelWarn
	case OutcomeDegraded, OutcomeFailed:
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
