package scaler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Iron-Ham/qscaler/internal/logging"
)

// Request asks the loop for one tick. reply, when set, receives the result.
type Request struct {
	reply chan<- TickResult
}

// Trigger decides when ticks happen. The loop receives from Requests only
// while idle, so a trigger that cannot hand a request over immediately drops
// it instead of queueing a second tick behind the running one.
type Trigger interface {
	Requests() <-chan Request
	Stop()
}

// dropCounter counts requests a trigger could not hand over.
type dropCounter struct {
	dropped atomic.Uint64
}

// Dropped returns how many ticks were skipped because the loop was busy.
func (d *dropCounter) Dropped() uint64 {
	return d.dropped.Load()
}

// offer hands a request over without blocking.
func (d *dropCounter) offer(ch chan Request) {
	select {
	case ch <- Request{}:
	default:
		d.dropped.Add(1)
	}
}

// -----------------------------------------------------------------------------
// Interval
// -----------------------------------------------------------------------------

// IntervalTrigger fires once as soon as the loop is ready, then every
// interval.
type IntervalTrigger struct {
	dropCounter
	ch       chan Request
	done     chan struct{}
	stopOnce sync.Once
}

// NewIntervalTrigger starts a trigger firing immediately and then every d.
func NewIntervalTrigger(d time.Duration) *IntervalTrigger {
	t := &IntervalTrigger{
		ch:   make(chan Request),
		done: make(chan struct{}),
	}
	go func() {
		select {
		case t.ch <- Request{}:
		case <-t.done:
			return
		}

		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				t.offer(t.ch)
			}
		}
	}()
	return t
}

// Requests implements Trigger.
func (t *IntervalTrigger) Requests() <-chan Request {
	return t.ch
}

// Stop implements Trigger.
func (t *IntervalTrigger) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// -----------------------------------------------------------------------------
// Cron
// -----------------------------------------------------------------------------

// cronParser accepts standard five-field specs, an optional leading seconds
// field and descriptors such as "@every 30s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether spec is a schedule CronTrigger accepts.
func ValidateSchedule(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

// CronTrigger fires on a cron schedule.
type CronTrigger struct {
	dropCounter
	cron *cron.Cron
	ch   chan Request
}

// NewCronTrigger starts a trigger firing on spec. The logger receives the
// scheduler's own diagnostics.
func NewCronTrigger(spec string, logger *logging.Logger) (*CronTrigger, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	t := &CronTrigger{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cronLogger{logger.WithComponent("cron")}),
		),
		ch: make(chan Request),
	}
	if _, err := t.cron.AddFunc(spec, func() { t.offer(t.ch) }); err != nil {
		return nil, err
	}
	t.cron.Start()
	return t, nil
}

// Next returns the next scheduled fire time.
func (t *CronTrigger) Next() time.Time {
	entries := t.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Requests implements Trigger.
func (t *CronTrigger) Requests() <-chan Request {
	return t.ch
}

// Stop implements Trigger. A fire already in progress is not waited for.
func (t *CronTrigger) Stop() {
	t.cron.Stop()
}

// cronLogger adapts a Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

// -----------------------------------------------------------------------------
// Manual
// -----------------------------------------------------------------------------

// ManualTrigger fires only when told to. Used by tests and one-shot runs.
type ManualTrigger struct {
	ch       chan Request
	done     chan struct{}
	stopOnce sync.Once
}

// NewManualTrigger creates a ManualTrigger.
func NewManualTrigger() *ManualTrigger {
	return &ManualTrigger{
		ch:   make(chan Request),
		done: make(chan struct{}),
	}
}

// Fire blocks until the loop has accepted and run one tick, and returns its
// result.
func (t *ManualTrigger) Fire(ctx context.Context) (TickResult, error) {
	reply := make(chan TickResult, 1)
	select {
	case t.ch <- Request{reply: reply}:
	case <-t.done:
		return TickResult{}, context.Canceled
	case <-ctx.Done():
		return TickResult{}, ctx.Err()
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return TickResult{}, ctx.Err()
	}
}

// Requests implements Trigger.
func (t *ManualTrigger) Requests() <-chan Request {
	return t.ch
}

// Stop implements Trigger. Pending and later Fire calls return.
func (t *ManualTrigger) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}
