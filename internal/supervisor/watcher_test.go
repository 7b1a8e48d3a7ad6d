package supervisor

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/qscaler/internal/testutil"
)

type driftEvent struct {
	persisted, expected int
}

func startWatcher(t *testing.T, path string, expected ExpectedFunc) chan driftEvent {
	t.Helper()

	events := make(chan driftEvent, 8)
	w, err := NewDriftWatcher(NewConfigFile(path), expected,
		WithDebounce(20*time.Millisecond),
		WithDriftCallback(func(p, e int) { events <- driftEvent{p, e} }),
	)
	if err != nil {
		t.Fatalf("NewDriftWatcher() = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return events
}

func TestDriftWatcher_ReportsExternalEdit(t *testing.T) {
	path := testutil.WriteProgramConf(t, testutil.ProgramConf(3))
	events := startWatcher(t, path, func() (int, bool) { return 3, true })

	if err := os.WriteFile(path, []byte(testutil.ProgramConf(9)), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.persisted != 9 || ev.expected != 3 {
			t.Errorf("drift = %+v, want persisted 9 expected 3", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for drift")
	}
}

func TestDriftWatcher_IgnoresOwnAtomicWrite(t *testing.T) {
	path := testutil.WriteProgramConf(t, testutil.ProgramConf(3))
	var expected atomic.Int64
	expected.Store(3)
	events := startWatcher(t, path, func() (int, bool) { return int(expected.Load()), true })

	expected.Store(6)
	if err := NewConfigFile(path).WriteCount(context.Background(), 6); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected drift %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDriftWatcher_SilentUntilExpectedKnown(t *testing.T) {
	path := testutil.WriteProgramConf(t, testutil.ProgramConf(3))
	events := startWatcher(t, path, func() (int, bool) { return 0, false })

	if err := os.WriteFile(path, []byte(testutil.ProgramConf(9)), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected drift %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDriftWatcher_StopIsIdempotent(t *testing.T) {
	path := testutil.WriteProgramConf(t, testutil.ProgramConf(1))
	w, err := NewDriftWatcher(NewConfigFile(path), func() (int, bool) { return 1, true })
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}
