package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/qscaler/internal/errors"
	"github.com/Iron-Ham/qscaler/internal/logging"
	"github.com/Iron-Ham/qscaler/internal/metrics"
	"github.com/Iron-Ham/qscaler/internal/scaling"
)

// EnvPrefix is the prefix of environment overrides, e.g. QSCALER_SCALING_MIN_PROCS.
const EnvPrefix = "QSCALER"

// Config represents the complete qscaler configuration
type Config struct {
	Scaling    ScalingConfig    `mapstructure:"scaling"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Queue      QueueConfig      `mapstructure:"queue"`
	CPU        CPUConfig        `mapstructure:"cpu"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ScalingConfig holds the policy parameters
type ScalingConfig struct {
	// ScaleFactor is the queue depth one worker is expected to absorb
	ScaleFactor int `mapstructure:"scale_factor"`
	// MinProcs is the lower bound on the worker count
	MinProcs int `mapstructure:"min_procs"`
	// MaxProcs is the upper bound on the worker count
	MaxProcs int `mapstructure:"max_procs"`
	// CPUCeiling is the host CPU percentage at or above which no scaling happens (default: 75)
	CPUCeiling float64 `mapstructure:"cpu_ceiling"`
}

// Bounds converts the scaling section into policy bounds.
func (c *ScalingConfig) Bounds() scaling.Bounds {
	return scaling.Bounds{
		ScaleFactor: c.ScaleFactor,
		MinProcs:    c.MinProcs,
		MaxProcs:    c.MaxProcs,
	}
}

// SupervisorConfig controls the program configuration file and the reload commands
type SupervisorConfig struct {
	// Config is the path to the supervisor program configuration file
	Config string `mapstructure:"config"`
	// Setting is the key holding the worker count (default: "numprocs")
	Setting string `mapstructure:"setting"`
	// UseSudo prefixes supervisorctl with sudo (default: true)
	UseSudo bool `mapstructure:"use_sudo"`
	// CtlCommand is the supervisorctl binary (default: "supervisorctl")
	CtlCommand string `mapstructure:"ctl_command"`
	// CtlArgs are passed before the subcommand, e.g. ["-c", "/etc/supervisord.conf"]
	CtlArgs []string `mapstructure:"ctl_args"`
	// WatchDrift logs when the file changes behind the loop's back (default: true)
	WatchDrift bool `mapstructure:"watch_drift"`
}

// QueueConfig identifies the work queue
type QueueConfig struct {
	// URL is an SQS queue URL (https://...) or a Redis list (redis://host/db?list=name)
	URL string `mapstructure:"url"`
	// Region overrides the AWS region inferred from the SQS URL
	Region string `mapstructure:"region"`
	// Timeout bounds each depth query (default: 10s)
	Timeout time.Duration `mapstructure:"timeout"`
}

// CPUConfig selects how host CPU is measured
type CPUConfig struct {
	// Source is "host" (local sampling) or "prometheus" (default: "host")
	Source string `mapstructure:"source"`
	// Window is the host sampling window (default: 200ms)
	Window time.Duration `mapstructure:"window"`
	// PrometheusURL is the Prometheus server queried when Source is "prometheus"
	PrometheusURL string `mapstructure:"prometheus_url"`
	// PrometheusQuery must evaluate to a single value in percent
	PrometheusQuery string `mapstructure:"prometheus_query"`
	// PrometheusTimeout bounds each query (default: 5s)
	PrometheusTimeout time.Duration `mapstructure:"prometheus_timeout"`
}

// LoopConfig controls when ticks happen
type LoopConfig struct {
	// Interval between ticks (default: 60s). Ignored when Schedule is set.
	Interval time.Duration `mapstructure:"interval"`
	// Schedule is a cron expression, e.g. "*/2 * * * *" or "@every 30s"
	Schedule string `mapstructure:"schedule"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address serving /metrics, e.g. ":9310". Empty disables it.
	Listen string `mapstructure:"listen"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// File is the log file path. Empty logs to stderr.
	File string `mapstructure:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated backups (default: false)
	Compress bool `mapstructure:"compress"`
}

// Rotation converts the logging section into rotation settings.
func (c *LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}

// Default returns a Config with sensible default values. The scaling bounds,
// the supervisor config path and the queue URL have no defaults.
func Default() *Config {
	return &Config{
		Scaling: ScalingConfig{
			CPUCeiling: scaling.DefaultCPUCeiling,
		},
		Supervisor: SupervisorConfig{
			Setting:    "numprocs",
			UseSudo:    true,
			CtlCommand: "supervisorctl",
			CtlArgs:    []string{},
			WatchDrift: true,
		},
		Queue: QueueConfig{
			Timeout: 10 * time.Second,
		},
		CPU: CPUConfig{
			Source:            CPUSourceHost,
			Window:            metrics.DefaultCPUWindow,
			PrometheusQuery:   metrics.DefaultPrometheusQuery,
			PrometheusTimeout: 5 * time.Second,
		},
		Loop: LoopConfig{
			Interval: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v.
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Scaling defaults
	v.SetDefault("scaling.scale_factor", defaults.Scaling.ScaleFactor)
	v.SetDefault("scaling.min_procs", defaults.Scaling.MinProcs)
	v.SetDefault("scaling.max_procs", defaults.Scaling.MaxProcs)
	v.SetDefault("scaling.cpu_ceiling", defaults.Scaling.CPUCeiling)

	// Supervisor defaults
	v.SetDefault("supervisor.config", defaults.Supervisor.Config)
	v.SetDefault("supervisor.setting", defaults.Supervisor.Setting)
	v.SetDefault("supervisor.use_sudo", defaults.Supervisor.UseSudo)
	v.SetDefault("supervisor.ctl_command", defaults.Supervisor.CtlCommand)
	v.SetDefault("supervisor.ctl_args", defaults.Supervisor.CtlArgs)
	v.SetDefault("supervisor.watch_drift", defaults.Supervisor.WatchDrift)

	// Queue defaults
	v.SetDefault("queue.url", defaults.Queue.URL)
	v.SetDefault("queue.region", defaults.Queue.Region)
	v.SetDefault("queue.timeout", defaults.Queue.Timeout)

	// CPU defaults
	v.SetDefault("cpu.source", defaults.CPU.Source)
	v.SetDefault("cpu.window", defaults.CPU.Window)
	v.SetDefault("cpu.prometheus_url", defaults.CPU.PrometheusURL)
	v.SetDefault("cpu.prometheus_query", defaults.CPU.PrometheusQuery)
	v.SetDefault("cpu.prometheus_timeout", defaults.CPU.PrometheusTimeout)

	// Loop defaults
	v.SetDefault("loop.interval", defaults.Loop.Interval)
	v.SetDefault("loop.schedule", defaults.Loop.Schedule)

	// Metrics defaults
	v.SetDefault("metrics.listen", defaults.Metrics.Listen)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Setup prepares v the way every command expects: defaults, the config file
// (cfgFile, or config.yaml from SearchPaths) and QSCALER_* environment
// overrides. A missing default config file is not an error; a missing or
// malformed explicit one is.
func Setup(v *viper.Viper, cfgFile string) error {
	SetDefaultsOn(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range SearchPaths() {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	// QSCALER_SCALING_MIN_PROCS overrides scaling.min_procs
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "reading config file")
	}
	return nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qscaler")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qscaler"
	}
	return filepath.Join(home, ".config", "qscaler")
}

// SystemConfigDir is searched after the user's config directory.
const SystemConfigDir = "/etc/qscaler"

// SearchPaths returns the directories searched for config.yaml, in order.
func SearchPaths() []string {
	return []string{ConfigDir(), SystemConfigDir, "."}
}

// ConfigFile returns the path to the user's config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
