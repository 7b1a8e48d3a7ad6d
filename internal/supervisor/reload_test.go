package supervisor

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/Iron-Ham/qscaler/internal/errors"
	"github.com/Iron-Ham/qscaler/internal/testutil"
)

func TestReloader_Commands(t *testing.T) {
	tests := []struct {
		name string
		opts []ReloaderOption
		want []string
	}{
		{
			name: "default uses sudo",
			want: []string{"sudo supervisorctl reread", "sudo supervisorctl update"},
		},
		{
			name: "without sudo",
			opts: []ReloaderOption{WithSudo(false)},
			want: []string{"supervisorctl reread", "supervisorctl update"},
		},
		{
			name: "custom binary and args",
			opts: []ReloaderOption{
				WithSudo(false),
				WithCtlCommand("/opt/bin/supervisorctl"),
				WithCtlArgs("-c", "/etc/supervisord.conf"),
			},
			want: []string{
				"/opt/bin/supervisorctl -c /etc/supervisord.conf reread",
				"/opt/bin/supervisorctl -c /etc/supervisord.conf update",
			},
		},
		{
			name: "empty binary keeps default",
			opts: []ReloaderOption{WithCtlCommand("")},
			want: []string{"sudo supervisorctl reread", "sudo supervisorctl update"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := testutil.NewFakeRunner()
			rl := NewReloader(append(tt.opts, WithRunner(runner))...)

			if err := rl.Reload(context.Background()); err != nil {
				t.Fatalf("Reload() = %v", err)
			}
			if got := runner.Calls(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("calls = %q, want %q", got, tt.want)
			}
			if got := rl.CommandLine(PhaseUpdate); got != tt.want[1] {
				t.Errorf("CommandLine(update) = %q, want %q", got, tt.want[1])
			}
		})
	}
}

func TestReloader_Failures(t *testing.T) {
	tests := []struct {
		name      string
		failOn    string
		output    string
		err       error
		wantPhase string
		wantCalls int
	}{
		{
			name:      "reread fails and update is not attempted",
			failOn:    PhaseReread,
			output:    "error: <class 'socket.error'>",
			err:       fmt.Errorf("exit status 7"),
			wantPhase: PhaseReread,
			wantCalls: 1,
		},
		{
			name:      "update fails",
			failOn:    PhaseUpdate,
			output:    "ERROR (spawn error)",
			err:       fmt.Errorf("exit status 2"),
			wantPhase: PhaseUpdate,
			wantCalls: 2,
		},
		{
			name:      "update prints ERROR but exits zero",
			failOn:    PhaseUpdate,
			output:    "worker: stopped\nERROR (no such process)\n",
			wantPhase: PhaseUpdate,
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := testutil.NewFakeRunner()
			runner.FailOn(tt.failOn, tt.output, tt.err)
			rl := NewReloader(WithRunner(runner), WithSudo(false))

			err := rl.Reload(context.Background())
			var reloadErr *errors.ReloadError
			if !errors.As(err, &reloadErr) {
				t.Fatalf("Reload() = %v, want *ReloadError", err)
			}
			if reloadErr.Phase != tt.wantPhase {
				t.Errorf("Phase = %q, want %q", reloadErr.Phase, tt.wantPhase)
			}
			if reloadErr.Output != tt.output {
				t.Errorf("Output = %q, want %q", reloadErr.Output, tt.output)
			}
			if !errors.Is(err, errors.ErrReloadFailed) {
				t.Error("expected ErrReloadFailed")
			}
			if got := len(runner.Calls()); got != tt.wantCalls {
				t.Errorf("got %d calls, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestReportsFailure(t *testing.T) {
	tests := []struct {
		out  string
		want bool
	}{
		{"", false},
		{"No config updates to processes\n", false},
		{"worker: changed\nworker: updated process group\n", false},
		{"ERROR (no such group)\n", true},
		{"worker: stopped\n  ERROR (abnormal termination)\n", true},
	}
	for _, tt := range tests {
		if got := reportsFailure([]byte(tt.out)); got != tt.want {
			t.Errorf("reportsFailure(%q) = %v, want %v", tt.out, got, tt.want)
		}
	}
}
