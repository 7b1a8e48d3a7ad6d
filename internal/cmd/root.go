package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/qscaler/internal/config"
	"github.com/Iron-Ham/qscaler/internal/errors"
	"github.com/Iron-Ham/qscaler/internal/logging"
	"github.com/Iron-Ham/qscaler/internal/supervisor"
)

var rootCmd = &cobra.Command{
	Use:   "qscaler",
	Short: "Scale supervisor worker processes with queue depth",
	Long: `qscaler periodically samples host CPU and the depth of a work queue,
derives a worker count from them, writes it to the numprocs setting of a
supervisor program configuration and reloads supervisor.

If the reload fails the previous count is restored.

Examples:
  # One worker per 100 queued messages, between 2 and 10 workers
  qscaler -s 100 -m 2 -x 10 \
    -c /etc/supervisor/conf.d/worker.conf \
    -q https://sqs.eu-west-1.amazonaws.com/123456789012/jobs

  # Redis list, every 30 seconds, with Prometheus metrics
  qscaler -s 50 -m 1 -x 8 -c worker.conf -q 'redis://localhost:6379/0?list=jobs' \
    --schedule '@every 30s' --metrics-listen :9310`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	RunE:              runScaler,
}

var cfgFile string

// flagKeys maps persistent flags to the config keys they override.
var flagKeys = map[string]string{
	"scale-factor":      "scaling.scale_factor",
	"min-procs":         "scaling.min_procs",
	"max-procs":         "scaling.max_procs",
	"cpu-ceiling":       "scaling.cpu_ceiling",
	"supervisor-config": "supervisor.config",
	"queue-url":         "queue.url",
	"interval":          "loop.interval",
	"schedule":          "loop.schedule",
	"metrics-listen":    "metrics.listen",
	"log-level":         "logging.level",
	"log-file":          "logging.file",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/qscaler/config.yaml)")

	pf.IntP("scale-factor", "s", 0, "Queue depth one worker absorbs")
	pf.IntP("min-procs", "m", 0, "Minimum number of workers")
	pf.IntP("max-procs", "x", 0, "Maximum number of workers")
	pf.Float64("cpu-ceiling", 0, "Skip scaling while host CPU is at or above this percentage (default 75)")
	pf.StringP("supervisor-config", "c", "", "Supervisor program configuration file")
	pf.StringP("queue-url", "q", "", "SQS queue URL or redis://host/db?list=name")
	pf.Duration("interval", 0, "Time between ticks (default 1m)")
	pf.String("schedule", "", "Cron schedule for ticks, overrides --interval")
	pf.String("metrics-listen", "", "Serve Prometheus metrics on this address, e.g. :9310")
	pf.String("log-level", "", "Log level (debug/info/warn/error)")
	pf.String("log-file", "", "Log to this file instead of stderr")

	bindFlags(pf)
}

// bindFlags binds every mapped flag to its config key. A flag only
// overrides the config file and environment when it is set.
func bindFlags(fs *pflag.FlagSet) {
	for flag, key := range flagKeys {
		_ = viper.BindPFlag(key, fs.Lookup(flag))
	}
}

func initConfig(cmd *cobra.Command, args []string) error {
	return config.Setup(viper.GetViper(), cfgFile)
}

// newLogger builds the logger described by the logging section.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(cfg.Logging.File, cfg.Logging.LogLevel(), cfg.Logging.Rotation())
}

func runScaler(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	a.logStartup(viper.ConfigFileUsed())

	trig, err := newTrigger(cfg.Loop, logger)
	if err != nil {
		return err
	}
	defer trig.Stop()

	if cfg.Supervisor.WatchDrift {
		watcher, err := supervisor.NewDriftWatcher(a.file, a.loop.Expected,
			supervisor.WithWatcherLogger(logger),
			supervisor.WithDriftCallback(a.loop.Collectors().RecordDrift),
		)
		if err == nil {
			err = watcher.Start(ctx)
		}
		if err != nil {
			logger.Warn("drift watcher disabled", "error", err)
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	if cfg.Metrics.Listen != "" {
		srv := newMetricsServer(cfg.Metrics.Listen, reg, logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Shutdown()
	}

	err = a.loop.Run(ctx, trig)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}
