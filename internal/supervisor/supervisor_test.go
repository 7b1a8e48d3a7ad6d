package supervisor

import (
	"context"
	"fmt"
	"testing"

	"github.com/Iron-Ham/qscaler/internal/errors"
	"github.com/Iron-Ham/qscaler/internal/testutil"
)

func newTestSupervisor(t *testing.T, numprocs int) (*Supervisor, *testutil.FakeRunner) {
	t.Helper()
	fs := testutil.MemProgramConf(t, confPath, testutil.ProgramConf(numprocs))
	runner := testutil.NewFakeRunner()
	s := New(
		NewConfigFile(confPath, WithFs(fs)),
		NewReloader(WithRunner(runner)),
		nil,
	)
	return s, runner
}

func TestSupervisor_ReadWriteReload(t *testing.T) {
	s, runner := newTestSupervisor(t, 3)
	ctx := context.Background()

	got, err := s.ReadCount(ctx)
	if err != nil || got != 3 {
		t.Fatalf("ReadCount() = %d, %v, want 3", got, err)
	}
	if err := s.WriteCount(ctx, 8); err != nil {
		t.Fatalf("WriteCount() = %v", err)
	}
	if len(runner.Calls()) != 0 {
		t.Error("WriteCount must not reload")
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload() = %v", err)
	}
	if len(runner.Calls()) != 2 {
		t.Errorf("Reload ran %d commands, want 2", len(runner.Calls()))
	}
	if got, _ := s.ReadCount(ctx); got != 8 {
		t.Errorf("ReadCount() after write = %d, want 8", got)
	}
}

func TestSupervisor_ReloadError(t *testing.T) {
	s, runner := newTestSupervisor(t, 3)
	runner.FailOn(PhaseUpdate, "ERROR", fmt.Errorf("exit status 1"))

	if err := s.Reload(context.Background()); !errors.Is(err, errors.ErrReloadFailed) {
		t.Errorf("Reload() = %v, want reload failure", err)
	}
}

func TestSupervisor_Accessors(t *testing.T) {
	s, _ := newTestSupervisor(t, 1)
	if s.File().Path() != confPath {
		t.Errorf("File().Path() = %q", s.File().Path())
	}
	if s.Reloader() == nil {
		t.Error("Reloader() = nil")
	}
}
