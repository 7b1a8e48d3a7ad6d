package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/qscaler/internal/config"
	"github.com/Iron-Ham/qscaler/internal/logging"
	"github.com/Iron-Ham/qscaler/internal/scaler"
	"github.com/Iron-Ham/qscaler/internal/scaling"
	"github.com/Iron-Ham/qscaler/internal/supervisor"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the next tick would do",
	Long: `Sample CPU and queue depth once, read the current worker count and
show the decision the scaler would make. Nothing is written and supervisor
is not reloaded.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusOutput string

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format (text/json/yaml)")
	rootCmd.AddCommand(statusCmd)
}

// statusView is the rendered form of a dry-run tick.
type statusView struct {
	SupervisorConfig   string         `json:"supervisor_config" yaml:"supervisor_config"`
	Setting            string         `json:"setting" yaml:"setting"`
	Queue              string         `json:"queue" yaml:"queue"`
	Bounds             scaling.Bounds `json:"bounds" yaml:"bounds"`
	CPUCeiling         float64        `json:"cpu_ceiling" yaml:"cpu_ceiling"`
	CPUPercent         float64        `json:"cpu_percent" yaml:"cpu_percent"`
	QueueDepth         int            `json:"queue_depth" yaml:"queue_depth"`
	QueueDepthFallback bool           `json:"queue_depth_fallback" yaml:"queue_depth_fallback"`
	Current            *int           `json:"current" yaml:"current"`
	Target             *int           `json:"target" yaml:"target"`
	Outcome            string         `json:"outcome" yaml:"outcome"`
	Reason             string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error              string         `json:"error,omitempty" yaml:"error,omitempty"`
	Reload             []string       `json:"reload,omitempty" yaml:"reload,omitempty"`
}

func newStatusView(a *app, res scaler.TickResult) statusView {
	p := a.loop.Policy()
	v := statusView{
		SupervisorConfig:   a.file.Path(),
		Setting:            a.file.Setting(),
		Queue:              a.cfg.Queue.URL,
		Bounds:             p.Bounds(),
		CPUCeiling:         p.CPUCeiling(),
		CPUPercent:         res.Metrics.CPUPercent,
		QueueDepth:         res.Metrics.QueueDepth,
		QueueDepthFallback: res.Metrics.QueueDepthFallback,
		Outcome:            string(res.Outcome),
		Reason:             res.Decision.Reason,
		Error:              res.Error(),
	}
	if res.CountKnown {
		current, target := res.Previous, res.Target
		v.Current, v.Target = &current, &target
	}
	if res.Outcome == scaler.OutcomePlanned {
		rl := a.sup.Reloader()
		v.Reload = []string{rl.CommandLine(supervisor.PhaseReread), rl.CommandLine(supervisor.PhaseUpdate)}
	}
	return v
}

func runStatus(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(statusOutput)
	if format != "text" && format != "json" && format != "yaml" {
		return fmt.Errorf("unsupported output format: %s (supported: text, json, yaml)", statusOutput)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Diagnostics go to stderr so structured output stays parseable.
	logger := logging.NewWriterLogger(cmd.ErrOrStderr(), logging.LevelWarn)

	a, err := newApp(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	res := a.loop.Plan(cmd.Context())
	return renderStatus(cmd.OutOrStdout(), newStatusView(a, res), format)
}

func renderStatus(w io.Writer, v statusView, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w, renderStatusText(v))
		return err
	}
}

func renderStatusText(v statusView) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
	}
	count := func(n *int) string {
		if n == nil {
			return "unknown"
		}
		return fmt.Sprintf("%d", *n)
	}

	depth := fmt.Sprintf("%d", v.QueueDepth)
	if v.QueueDepthFallback {
		depth += " (unavailable, assumed empty)"
	}
	outcome := outcomeStyle(v.Outcome).Render(v.Outcome)
	if v.Reason != "" {
		outcome += " (" + v.Reason + ")"
	}

	rows := []string{
		titleStyle.Render("qscaler status"),
		"",
		row("supervisor config", v.SupervisorConfig),
		row("setting", v.Setting),
		row("queue", v.Queue),
		row("bounds", fmt.Sprintf("scale factor %d, %d..%d workers", v.Bounds.ScaleFactor, v.Bounds.MinProcs, v.Bounds.MaxProcs)),
		"",
		row("cpu", fmt.Sprintf("%.1f%% (ceiling %.0f%%)", v.CPUPercent, v.CPUCeiling)),
		row("queue depth", depth),
		row("current workers", count(v.Current)),
		row("target workers", count(v.Target)),
		row("next tick", outcome),
	}
	if v.Error != "" {
		rows = append(rows, row("error", lipgloss.NewStyle().Foreground(errorColor).Render(v.Error)))
	}
	for i, cmdline := range v.Reload {
		label := ""
		if i == 0 {
			label = "would run"
		}
		rows = append(rows, row(label, cmdline))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
