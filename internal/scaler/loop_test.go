package scaler

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Iron-Ham/qscaler/internal/errors"
	"github.com/Iron-Ham/qscaler/internal/scaling"
)

// fakeCPU returns a fixed reading.
type fakeCPU struct {
	pct float64
	err error
}

func (f fakeCPU) SampleCPU(context.Context) (float64, error) { return f.pct, f.err }

// fakeQueue returns a fixed depth and records the queue ids asked for.
type fakeQueue struct {
	mu    sync.Mutex
	depth int
	err   error
	ids   []string
}

func (f *fakeQueue) QueueDepth(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return f.depth, f.err
}

// spyStore records every call in order and can be scripted to fail.
type spyStore struct {
	mu        sync.Mutex
	count     int
	readErr   error
	writeErrs []error // consumed per WriteCount call
	reloadErr []error // consumed per Reload call
	onReload  func()  // runs before every Reload
	calls     []string
}

func (s *spyStore) ReadCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "read")
	return s.count, s.readErr
}

func (s *spyStore) WriteCount(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("write(%d)", n))
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.writeErrs) > 0 {
		err := s.writeErrs[0]
		s.writeErrs = s.writeErrs[1:]
		if err != nil {
			return err
		}
	}
	s.count = n
	return nil
}

func (s *spyStore) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "reload")
	if s.onReload != nil {
		s.onReload()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.reloadErr) > 0 {
		err := s.reloadErr[0]
		s.reloadErr = s.reloadErr[1:]
		return err
	}
	return nil
}

func (s *spyStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

var testBounds = scaling.Bounds{ScaleFactor: 100, MinProcs: 2, MaxProcs: 10}

func newTestLoop(t *testing.T, cpu fakeCPU, queue *fakeQueue, store *spyStore, opts ...Option) *Loop {
	t.Helper()
	l, err := New(cpu, queue, "jobs", store, testBounds, opts...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return l
}

func TestNew_RejectsInvalidBounds(t *testing.T) {
	_, err := New(fakeCPU{}, &fakeQueue{}, "q", &spyStore{}, scaling.Bounds{ScaleFactor: 0, MaxProcs: 1})
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("New() = %v, want validation error", err)
	}
}

func TestTick_Scenarios(t *testing.T) {
	tests := []struct {
		name        string
		cpu         fakeCPU
		queue       *fakeQueue
		store       *spyStore
		wantOutcome Outcome
		wantReason  string
		wantCalls   []string
		wantCount   int
		wantStates  []State
	}{
		{
			name:        "low depth scales down to min",
			cpu:         fakeCPU{pct: 40},
			queue:       &fakeQueue{depth: 250},
			store:       &spyStore{count: 5},
			wantOutcome: OutcomeApplied,
			wantCalls:   []string{"read", "write(2)", "reload"},
			wantCount:   2,
			wantStates:  []State{StateSampling, StateDeciding, StateApplying, StateApplied, StateIdle},
		},
		{
			name:        "high depth scales up to max",
			cpu:         fakeCPU{pct: 40},
			queue:       &fakeQueue{depth: 5000},
			store:       &spyStore{count: 5},
			wantOutcome: OutcomeApplied,
			wantCalls:   []string{"read", "write(10)", "reload"},
			wantCount:   10,
			wantStates:  []State{StateSampling, StateDeciding, StateApplying, StateApplied, StateIdle},
		},
		{
			name:        "cpu above ceiling leaves the store alone",
			cpu:         fakeCPU{pct: 80},
			queue:       &fakeQueue{depth: 5000},
			store:       &spyStore{count: 5},
			wantOutcome: OutcomeSkipped,
			wantReason:  scaling.ReasonCPUHigh,
			wantCalls:   nil,
			wantCount:   5,
			wantStates:  []State{StateSampling, StateDeciding, StateIdle},
		},
		{
			name:        "cpu sample failure skips",
			cpu:         fakeCPU{err: errors.NewMetricError("host", errors.ErrCPUUnavailable)},
			queue:       &fakeQueue{depth: 5000},
			store:       &spyStore{count: 5},
			wantOutcome: OutcomeSkipped,
			wantReason:  scaling.ReasonCPUUnavailable,
			wantCalls:   nil,
			wantCount:   5,
			wantStates:  []State{StateSampling, StateDeciding, StateIdle},
		},
		{
			name:        "target equal to current writes nothing",
			cpu:         fakeCPU{pct: 10},
			queue:       &fakeQueue{depth: 700},
			store:       &spyStore{count: 7},
			wantOutcome: OutcomeUnchanged,
			wantCalls:   []string{"read"},
			wantCount:   7,
			wantStates:  []State{StateSampling, StateDeciding, StateNoChange, StateIdle},
		},
		{
			name:        "queue failure falls back to zero depth",
			cpu:         fakeCPU{pct: 10},
			queue:       &fakeQueue{err: errors.NewMetricError("sqs", errors.ErrQueueUnavailable)},
			store:       &spyStore{count: 4},
			wantOutcome: OutcomeApplied,
			wantCalls:   []string{"read", "write(2)", "reload"},
			wantCount:   2,
			wantStates:  []State{StateSampling, StateDeciding, StateApplying, StateApplied, StateIdle},
		},
		{
			name:        "unreadable count fails the tick",
			cpu:         fakeCPU{pct: 10},
			queue:       &fakeQueue{depth: 700},
			store:       &spyStore{count: 3, readErr: errors.NewStoreError("read", "w.conf", fmt.Errorf("EACCES"))},
			wantOutcome: OutcomeFailed,
			wantCalls:   []string{"read"},
			wantCount:   3,
			wantStates:  []State{StateSampling, StateDeciding, StateIdle},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLoop(t, tt.cpu, tt.queue, tt.store)
			res := l.Tick(context.Background())

			if res.Outcome != tt.wantOutcome {
				t.Fatalf("Outcome = %q, want %q (err %v)", res.Outcome, tt.wantOutcome, res.Err)
			}
			if res.Decision.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Decision.Reason, tt.wantReason)
			}
			if got := tt.store.Calls(); !reflect.DeepEqual(got, tt.wantCalls) {
				t.Errorf("store calls = %v, want %v", got, tt.wantCalls)
			}
			if tt.store.count != tt.wantCount {
				t.Errorf("persisted count = %d, want %d", tt.store.count, tt.wantCount)
			}
			if !reflect.DeepEqual(res.States, tt.wantStates) {
				t.Errorf("States = %v, want %v", res.States, tt.wantStates)
			}
			if res.Seq != 1 {
				t.Errorf("Seq = %d, want 1", res.Seq)
			}
		})
	}
}

func TestTick_QueueFallbackFlagged(t *testing.T) {
	queue := &fakeQueue{err: fmt.Errorf("timeout")}
	l := newTestLoop(t, fakeCPU{pct: 5}, queue, &spyStore{count: 2})

	res := l.Tick(context.Background())
	if !res.Metrics.QueueDepthFallback || res.Metrics.QueueDepth != 0 {
		t.Errorf("Metrics = %+v, want fallback to 0", res.Metrics)
	}
	if res.Err != nil {
		t.Errorf("queue failure must not fail the tick, got %v", res.Err)
	}
	if len(queue.ids) != 1 || queue.ids[0] != "jobs" {
		t.Errorf("queue ids = %v", queue.ids)
	}
}

func TestTick_Idempotent(t *testing.T) {
	store := &spyStore{count: 5}
	l := newTestLoop(t, fakeCPU{pct: 20}, &fakeQueue{depth: 900}, store)

	first := l.Tick(context.Background())
	if first.Outcome != OutcomeApplied {
		t.Fatalf("first Outcome = %q, want applied", first.Outcome)
	}
	writes := countWrites(store.Calls())

	for i := 0; i < 3; i++ {
		if res := l.Tick(context.Background()); res.Outcome != OutcomeUnchanged {
			t.Fatalf("Outcome = %q, want unchanged", res.Outcome)
		}
	}
	if got := countWrites(store.Calls()); got != writes {
		t.Errorf("writes = %d after repeated ticks, want %d", got, writes)
	}
}

func countWrites(calls []string) int {
	n := 0
	for _, c := range calls {
		if c != "read" && c != "reload" {
			n++
		}
	}
	return n
}

func TestTick_RollbackOnReloadFailure(t *testing.T) {
	reloadErr := errors.NewReloadError("update", fmt.Errorf("exit status 2"))
	store := &spyStore{count: 4, reloadErr: []error{reloadErr, nil}}
	l := newTestLoop(t, fakeCPU{pct: 30}, &fakeQueue{depth: 800}, store)

	res := l.Tick(context.Background())

	if res.Outcome != OutcomeRolledBack {
		t.Fatalf("Outcome = %q, want rolled_back", res.Outcome)
	}
	want := []string{"read", "write(8)", "reload", "write(4)", "reload"}
	if got := store.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("store calls = %v, want %v", got, want)
	}
	if store.count != 4 {
		t.Errorf("persisted count = %d, want previous 4", store.count)
	}
	if !errors.Is(res.Err, errors.ErrReloadFailed) {
		t.Errorf("Err = %v, want the apply failure", res.Err)
	}
	wantStates := []State{StateSampling, StateDeciding, StateApplying, StateRollingBack, StateIdle}
	if !reflect.DeepEqual(res.States, wantStates) {
		t.Errorf("States = %v, want %v", res.States, wantStates)
	}
	if got, _ := l.Expected(); got != 4 {
		t.Errorf("Expected() = %d, want 4", got)
	}
}

func TestTick_RollbackSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stopping the process mid-update kills supervisorctl.
	store := &spyStore{
		count:     4,
		reloadErr: []error{errors.NewReloadError("update", context.Canceled), nil},
	}
	reloads := 0
	store.onReload = func() {
		reloads++
		if reloads == 1 {
			cancel()
		}
	}
	l := newTestLoop(t, fakeCPU{pct: 30}, &fakeQueue{depth: 800}, store)

	res := l.Tick(ctx)

	if res.Outcome != OutcomeRolledBack {
		t.Fatalf("Outcome = %q (err %v), want rolled_back", res.Outcome, res.Err)
	}
	want := []string{"read", "write(8)", "reload", "write(4)", "reload"}
	if got := store.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("store calls = %v, want %v", got, want)
	}
	if store.count != 4 {
		t.Errorf("persisted count = %d, want previous 4", store.count)
	}
}

func TestTick_RollbackOnWriteFailure(t *testing.T) {
	writeErr := errors.NewStoreError("write", "w.conf", fmt.Errorf("disk full"))
	store := &spyStore{count: 4, writeErrs: []error{writeErr, nil}}
	l := newTestLoop(t, fakeCPU{pct: 30}, &fakeQueue{depth: 800}, store)

	res := l.Tick(context.Background())
	if res.Outcome != OutcomeRolledBack {
		t.Fatalf("Outcome = %q, want rolled_back", res.Outcome)
	}
	want := []string{"read", "write(8)", "write(4)", "reload"}
	if got := store.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("store calls = %v, want %v", got, want)
	}
}

func TestTick_DegradedWhenRollbackFails(t *testing.T) {
	store := &spyStore{
		count: 4,
		reloadErr: []error{
			errors.NewReloadError("update", nil),
			errors.NewReloadError("reread", nil),
		},
	}
	reg := prometheus.NewRegistry()
	l := newTestLoop(t, fakeCPU{pct: 30}, &fakeQueue{depth: 800}, store, WithRegisterer(reg))

	res := l.Tick(context.Background())
	if res.Outcome != OutcomeDegraded {
		t.Fatalf("Outcome = %q, want degraded", res.Outcome)
	}
	var rbErr *errors.RollbackError
	if !errors.As(res.Err, &rbErr) {
		t.Fatalf("Err = %v, want *RollbackError", res.Err)
	}
	if rbErr.Previous != 4 || rbErr.Target != 8 {
		t.Errorf("RollbackError = %+v", rbErr)
	}
	if errors.GetSeverity(res.Err) != errors.SeverityCritical {
		t.Error("degraded ticks must be critical")
	}
	if got := testutil.ToFloat64(l.Collectors().Degraded); got != 1 {
		t.Errorf("qscaler_degraded = %v, want 1", got)
	}
	if _, ok := l.Expected(); ok {
		t.Error("Expected() ok = true after a failed rollback, want unknown")
	}

	// The loop keeps going and clears the flag once a tick settles.
	if next := l.Tick(context.Background()); next.Outcome != OutcomeApplied {
		t.Fatalf("next Outcome = %q, want applied", next.Outcome)
	}
	if got := testutil.ToFloat64(l.Collectors().Degraded); got != 0 {
		t.Errorf("qscaler_degraded = %v after recovery, want 0", got)
	}
}

func TestTick_StateHookAndSequence(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	hook := func(seq uint64, s State) {
		mu.Lock()
		defer mu.Unlock()
		if seq == 2 {
			seen = append(seen, s)
		}
	}
	l := newTestLoop(t, fakeCPU{pct: 1}, &fakeQueue{depth: 300}, &spyStore{count: 3}, WithStateHook(hook))

	l.Tick(context.Background())
	res := l.Tick(context.Background())
	if res.Seq != 2 {
		t.Fatalf("Seq = %d, want 2", res.Seq)
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(seen, res.States) {
		t.Errorf("hook saw %v, result has %v", seen, res.States)
	}
}

func TestTick_Duration(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var calls int
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	l := newTestLoop(t, fakeCPU{pct: 1}, &fakeQueue{}, &spyStore{count: 2}, WithClock(clock))

	res := l.Tick(context.Background())
	if res.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", res.Duration)
	}
	last, ok := l.Last()
	if !ok || last.Seq != res.Seq {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestPlan_NeverWrites(t *testing.T) {
	tests := []struct {
		name        string
		cpu         fakeCPU
		depth       int
		count       int
		wantOutcome Outcome
	}{
		{"change pending", fakeCPU{pct: 10}, 5000, 3, OutcomePlanned},
		{"no change", fakeCPU{pct: 10}, 300, 3, OutcomeUnchanged},
		{"cpu high", fakeCPU{pct: 99}, 5000, 3, OutcomeSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &spyStore{count: tt.count}
			l := newTestLoop(t, tt.cpu, &fakeQueue{depth: tt.depth}, store)

			res := l.Plan(context.Background())
			if res.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %q, want %q", res.Outcome, tt.wantOutcome)
			}
			if got := store.Calls(); !reflect.DeepEqual(got, []string{"read"}) {
				t.Errorf("store calls = %v, want only a read", got)
			}
			if _, ok := l.Last(); ok {
				t.Error("Plan must not be recorded as a tick")
			}
		})
	}
}

func TestRun_ManualTrigger(t *testing.T) {
	store := &spyStore{count: 2}
	l := newTestLoop(t, fakeCPU{pct: 10}, &fakeQueue{depth: 600}, store)
	trig := NewManualTrigger()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, trig) }()

	res, err := trig.Fire(ctx)
	if err != nil {
		t.Fatalf("Fire() = %v", err)
	}
	if res.Outcome != OutcomeApplied || store.count != 6 {
		t.Errorf("first tick = %q, count %d", res.Outcome, store.count)
	}

	res, err = trig.Fire(ctx)
	if err != nil {
		t.Fatalf("Fire() = %v", err)
	}
	if res.Outcome != OutcomeUnchanged || res.Seq != 2 {
		t.Errorf("second tick = %q seq %d", res.Outcome, res.Seq)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ClosedTrigger(t *testing.T) {
	l := newTestLoop(t, fakeCPU{}, &fakeQueue{}, &spyStore{count: 2})
	ch := make(chan Request)
	close(ch)

	if err := l.Run(context.Background(), chanTrigger(ch)); err != nil {
		t.Errorf("Run() = %v, want nil when the trigger closes", err)
	}
}

type chanTrigger chan Request

func (c chanTrigger) Requests() <-chan Request { return c }
func (c chanTrigger) Stop()                    {}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := newTestLoop(t, fakeCPU{pct: 33}, &fakeQueue{depth: 5000}, &spyStore{count: 4}, WithRegisterer(reg))

	l.Tick(context.Background())
	c := l.Collectors()

	if got := testutil.ToFloat64(c.CPUPercent); got != 33 {
		t.Errorf("cpu_percent = %v, want 33", got)
	}
	if got := testutil.ToFloat64(c.QueueDepth); got != 5000 {
		t.Errorf("queue_depth = %v, want 5000", got)
	}
	if got := testutil.ToFloat64(c.TargetProcs); got != 10 {
		t.Errorf("target_procs = %v, want 10", got)
	}
	if got := testutil.ToFloat64(c.PersistedProcs); got != 10 {
		t.Errorf("persisted_procs = %v, want 10", got)
	}
	if got := testutil.ToFloat64(c.Ticks.WithLabelValues(string(OutcomeApplied))); got != 1 {
		t.Errorf("ticks_total{applied} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.Ticks); got != len(Outcomes()) {
		t.Errorf("ticks_total has %d series, want %d", got, len(Outcomes()))
	}

	if _, err := New(fakeCPU{}, &fakeQueue{}, "q", &spyStore{}, testBounds, WithRegisterer(reg)); err == nil {
		t.Error("registering a second loop on the same registry should fail")
	}
}
