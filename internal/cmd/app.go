package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/qscaler/internal/config"
	"github.com/Iron-Ham/qscaler/internal/logging"
	"github.com/Iron-Ham/qscaler/internal/metrics"
	"github.com/Iron-Ham/qscaler/internal/scaler"
	"github.com/Iron-Ham/qscaler/internal/supervisor"
)

// Constructors for external dependencies, replaced in tests.
var (
	newQueueSource = metrics.NewQueueSource
	newCPUSampler  = buildCPUSampler
	newRunner      = func() supervisor.Runner { return supervisor.ExecRunner{} }
)

// app holds the components a command works with.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	file    *supervisor.ConfigFile
	sup     *supervisor.Supervisor
	loop    *scaler.Loop
	current int
}

func buildCPUSampler(cfg config.CPUConfig) (metrics.CPUSampler, error) {
	if cfg.Source == config.CPUSourcePrometheus {
		return metrics.NewPrometheusSampler(cfg.PrometheusURL,
			metrics.WithQuery(cfg.PrometheusQuery),
			metrics.WithQueryTimeout(cfg.PrometheusTimeout),
		)
	}
	return metrics.NewHostSampler(cfg.Window), nil
}

// newApp wires the loop from a validated config. The supervisor file
// must be readable and carry the setting, so a misconfigured host fails
// here instead of on the first tick. reg may be nil.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, reg prometheus.Registerer) (*app, error) {
	file := supervisor.NewConfigFile(cfg.Supervisor.Config, supervisor.WithSetting(cfg.Supervisor.Setting))
	current, err := file.ReadCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", cfg.Supervisor.Setting, cfg.Supervisor.Config, err)
	}

	reloader := supervisor.NewReloader(
		supervisor.WithRunner(newRunner()),
		supervisor.WithSudo(cfg.Supervisor.UseSudo),
		supervisor.WithCtlCommand(cfg.Supervisor.CtlCommand),
		supervisor.WithCtlArgs(cfg.Supervisor.CtlArgs...),
		supervisor.WithReloaderLogger(logger),
	)
	sup := supervisor.New(file, reloader, logger)

	cpu, err := newCPUSampler(cfg.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to create cpu sampler: %w", err)
	}
	queue, err := newQueueSource(ctx, cfg.Queue.URL, metrics.QueueOptions{
		Region:  cfg.Queue.Region,
		Timeout: cfg.Queue.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create queue source: %w", err)
	}

	opts := []scaler.Option{
		scaler.WithCPUCeiling(cfg.Scaling.CPUCeiling),
		scaler.WithLogger(logger),
	}
	if reg != nil {
		opts = append(opts, scaler.WithRegisterer(reg))
	}
	loop, err := scaler.New(cpu, queue, cfg.Queue.URL, sup, cfg.Scaling.Bounds(), opts...)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		file:    file,
		sup:     sup,
		loop:    loop,
		current: current,
	}, nil
}

// logStartup logs the effective settings once before the first tick.
func (a *app) logStartup(configFile string) {
	b := a.cfg.Scaling.Bounds()
	trigger := a.cfg.Loop.Interval.String()
	if a.cfg.Loop.Schedule != "" {
		trigger = a.cfg.Loop.Schedule
	}
	a.logger.Info("qscaler starting",
		"version", Version,
		"config_file", configFile,
		"supervisor_config", a.file.Path(),
		"setting", a.file.Setting(),
		"current", a.current,
		"queue", a.cfg.Queue.URL,
		"scale_factor", b.ScaleFactor,
		"min_procs", b.MinProcs,
		"max_procs", b.MaxProcs,
		"cpu_ceiling", a.cfg.Scaling.CPUCeiling,
		"cpu_source", a.cfg.CPU.Source,
		"trigger", trigger,
		"reload", a.sup.Reloader().CommandLine(supervisor.PhaseReread),
	)
}

// newTrigger returns a cron trigger when a schedule is set, otherwise an
// interval trigger.
func newTrigger(cfg config.LoopConfig, logger *logging.Logger) (scaler.Trigger, error) {
	if cfg.Schedule != "" {
		t, err := scaler.NewCronTrigger(cfg.Schedule, logger)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}
		return t, nil
	}
	return scaler.NewIntervalTrigger(cfg.Interval), nil
}
