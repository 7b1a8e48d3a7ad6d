package supervisor

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/qscaler/internal/errors"
	"github.com/Iron-Ham/qscaler/internal/logging"
)

// Reload phases, run in this order.
const (
	PhaseReread = "reread"
	PhaseUpdate = "update"
)

// DefaultCtlCommand is the supervisor control binary.
const DefaultCtlCommand = "supervisorctl"

// Runner runs an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithRunner replaces the command runner.
func WithRunner(r Runner) ReloaderOption {
	return func(rl *Reloader) { rl.runner = r }
}

// WithSudo controls whether supervisorctl is run through sudo.
func WithSudo(enabled bool) ReloaderOption {
	return func(rl *Reloader) { rl.sudo = enabled }
}

// WithCtlCommand sets the supervisorctl binary.
func WithCtlCommand(name string) ReloaderOption {
	return func(rl *Reloader) {
		if name != "" {
			rl.ctl = name
		}
	}
}

// WithCtlArgs adds arguments placed before the phase, e.g. "-c /etc/supervisord.conf".
func WithCtlArgs(args ...string) ReloaderOption {
	return func(rl *Reloader) { rl.ctlArgs = append([]string(nil), args...) }
}

// WithReloaderLogger sets the logger.
func WithReloaderLogger(l *logging.Logger) ReloaderOption {
	return func(rl *Reloader) { rl.logger = l }
}

// Reloader makes supervisord pick up a changed program configuration by
// running "supervisorctl reread" and then "supervisorctl update". Both must
// succeed.
type Reloader struct {
	runner  Runner
	sudo    bool
	ctl     string
	ctlArgs []string
	logger  *logging.Logger
}

// NewReloader creates a Reloader. By default it runs
// "sudo supervisorctl <phase>" through ExecRunner.
func NewReloader(opts ...ReloaderOption) *Reloader {
	rl := &Reloader{
		runner: ExecRunner{},
		sudo:   true,
		ctl:    DefaultCtlCommand,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// command returns the binary and arguments for a phase.
func (rl *Reloader) command(phase string) (string, []string) {
	args := make([]string, 0, len(rl.ctlArgs)+2)
	name := rl.ctl
	if rl.sudo {
		args = append(args, rl.ctl)
		name = "sudo"
	}
	args = append(args, rl.ctlArgs...)
	args = append(args, phase)
	return name, args
}

// CommandLine renders the command for a phase, for logs and status output.
func (rl *Reloader) CommandLine(phase string) string {
	name, args := rl.command(phase)
	return strings.Join(append([]string{name}, args...), " ")
}

// Reload runs reread then update. The first failing phase stops the reload
// and is returned as a *errors.ReloadError carrying the command output.
func (rl *Reloader) Reload(ctx context.Context) error {
	for _, phase := range []string{PhaseReread, PhaseUpdate} {
		if err := rl.run(ctx, phase); err != nil {
			return err
		}
	}
	return nil
}

func (rl *Reloader) run(ctx context.Context, phase string) error {
	name, args := rl.command(phase)
	start := time.Now()

	out, err := rl.runner.Run(ctx, name, args...)
	rl.logger.Debug("supervisorctl finished",
		"phase", phase,
		"duration_ms", time.Since(start).Milliseconds(),
		"output", strings.TrimSpace(string(out)),
		"error", err,
	)
	if err != nil {
		return errors.NewReloadError(phase, err).
			WithCommand(rl.CommandLine(phase)).
			WithOutput(string(out))
	}
	if reportsFailure(out) {
		return errors.NewReloadError(phase, nil).
			WithCommand(rl.CommandLine(phase)).
			WithOutput(string(out))
	}
	return nil
}

// reportsFailure catches supervisorctl versions that print an ERROR line but
// still exit 0.
func reportsFailure(out []byte) bool {
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "ERROR") {
			return true
		}
	}
	return false
}
