package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/qscaler/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View scaler logs",
	Long: `View and filter the JSON log written by qscaler, including rotated
backups next to it.

Examples:
  # Last 50 entries of the configured log file
  qscaler logs

  # Every rollback in the last day, as CSV
  qscaler logs --outcome rolled_back --since 24h --format csv -n 0

  # Only tick summaries from a specific file
  qscaler logs --file /var/log/qscaler.log --ticks

  # Warnings and errors mentioning the queue
  qscaler logs --level warn --grep queue`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsFile      string
	logsTail      int
	logsLevel     string
	logsSince     string
	logsOutcome   string
	logsComponent string
	logsTicks     bool
	logsGrep      string
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsFile, "file", "", "Log file to read (default: logging.file from config)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsOutcome, "outcome", "", "Only tick summaries with this outcome")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Only entries from this component")
	logsCmd.Flags().BoolVar(&logsTicks, "ticks", false, "Only tick summaries")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format (text/json/csv)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	path := logsFile
	if path == "" {
		path = viper.GetString("logging.file")
	}
	if path == "" {
		return fmt.Errorf("no log file: pass --file or set logging.file")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot read log file: %w", err)
	}

	filter, err := buildLogFilter(time.Now())
	if err != nil {
		return err
	}

	entries, err := logging.AggregateLogs(path)
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}
	entries = logging.Tail(logging.FilterLogs(entries, filter), logsTail)

	return logging.ExportLogEntries(cmd.OutOrStdout(), entries, logsFormat)
}

// buildLogFilter turns the command flags into a filter. now anchors --since.
func buildLogFilter(now time.Time) (logging.LogFilter, error) {
	filter := logging.LogFilter{
		Component:       logsComponent,
		Outcome:         logsOutcome,
		TicksOnly:       logsTicks || logsOutcome != "",
		MessageContains: logsGrep,
	}

	if logsLevel != "" {
		level := strings.ToUpper(logsLevel)
		if level == "WARNING" {
			level = logging.LevelWarn
		}
		valid := false
		for _, l := range logging.ValidLevels() {
			if l == level {
				valid = true
			}
		}
		if !valid {
			return filter, fmt.Errorf("invalid level %q (valid: debug, info, warn, error)", logsLevel)
		}
		filter.Level = level
	}

	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return filter, fmt.Errorf("invalid duration for --since: %w", err)
		}
		filter.StartTime = now.Add(-d)
	}

	return filter, nil
}
