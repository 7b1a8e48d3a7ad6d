package logging

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LogEntry is one parsed JSON log line.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Component string         `json:"component,omitempty"`
	Tick      uint64         `json:"tick,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// IsTick reports whether the entry is a per-tick summary line.
func (e LogEntry) IsTick() bool {
	return e.Message == "tick" && e.Tick > 0
}

// LogFilter defines criteria for filtering log entries. Zero-valued fields
// do not filter.
type LogFilter struct {
	// Level keeps entries at or above this level (DEBUG < INFO < WARN < ERROR).
	Level string

	// StartTime keeps entries at or after this time.
	StartTime time.Time

	// EndTime keeps entries at or before this time.
	EndTime time.Time

	// Component keeps entries from this component.
	Component string

	// Outcome keeps tick summaries with this outcome.
	Outcome string

	// TicksOnly keeps only per-tick summary lines.
	TicksOnly bool

	// MessageContains keeps entries whose message contains this substring.
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// AggregateLogs reads the log file at path together with any rotated
// backups next to it (plain or gzipped), returning entries sorted by time.
// Lines that are not valid JSON are skipped.
func AggregateLogs(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file at %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	entries, err := readEntries(f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}

	for n := 1; ; n++ {
		backup, err := readBackup(BackupPath(path, n))
		if err != nil {
			return nil, err
		}
		if backup == nil {
			break
		}
		entries = append(entries, backup...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// readBackup returns nil, nil when neither the plain nor the gzipped backup
// exists.
func readBackup(path string) ([]LogEntry, error) {
	if f, err := os.Open(path); err == nil {
		defer func() { _ = f.Close() }()
		return readEntries(f)
	}

	f, err := os.Open(path + ".gz")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log backup: %w", err)
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read compressed log backup %s: %w", path, err)
	}
	defer func() { _ = zr.Close() }()
	return readEntries(zr)
}

func readEntries(r io.Reader) ([]LogEntry, error) {
	scanner := bufio.NewScanner(r)
	const maxLine = 1 << 20
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	entries := []LogEntry{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := ParseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}
	return entries, nil
}

// ParseLogEntry parses a single JSON log line.
func ParseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "time":
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					entry.Timestamp = t
				}
			}
		case "level":
			entry.Level, _ = v.(string)
		case "msg":
			entry.Message, _ = v.(string)
		case KeyComponent:
			entry.Component, _ = v.(string)
		case KeyOutcome:
			entry.Outcome, _ = v.(string)
		case KeyTick:
			if n, ok := v.(float64); ok && n >= 0 {
				entry.Tick = uint64(n)
			}
		default:
			entry.Attrs[k] = v
		}
	}
	return entry, nil
}

// FilterLogs returns the entries matching every criterion in filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if filter == (LogFilter{}) {
		return entries
	}

	var out []LogEntry
	for _, e := range entries {
		if matchesFilter(e, filter) {
			out = append(out, e)
		}
	}
	return out
}

func matchesFilter(e LogEntry, f LogFilter) bool {
	if f.Level != "" {
		want, wantOK := levelOrder[strings.ToUpper(f.Level)]
		got, gotOK := levelOrder[e.Level]
		if wantOK && gotOK && got < want {
			return false
		}
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.TicksOnly && !e.IsTick() {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains) {
		return false
	}
	return true
}

// Tail returns the last n entries, or all of them when n <= 0.
func Tail(entries []LogEntry, n int) []LogEntry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

// ExportFormats lists the formats accepted by ExportLogEntries.
func ExportFormats() []string {
	return []string{"text", "json", "csv"}
}

// ExportLogEntries writes entries to w as "text", "json" or "csv".
func ExportLogEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		return exportJSON(w, entries)
	case "text", "":
		return exportText(w, entries)
	case "csv":
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s (supported: %s)", format, strings.Join(ExportFormats(), ", "))
	}
}

func exportJSON(w io.Writer, entries []LogEntry) error {
	if entries == nil {
		entries = []LogEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// exportText writes "[TIMESTAMP] LEVEL component#tick - MESSAGE outcome {attrs}".
func exportText(w io.Writer, entries []LogEntry) error {
	for _, e := range entries {
		parts := []string{
			"[" + e.Timestamp.Format("2006-01-02 15:04:05.000") + "]",
			fmt.Sprintf("%-5s", e.Level),
		}
		if e.Component != "" {
			src := e.Component
			if e.Tick > 0 {
				src += "#" + strconv.FormatUint(e.Tick, 10)
			}
			parts = append(parts, src)
		}
		parts = append(parts, "-", e.Message)
		if e.Outcome != "" {
			parts = append(parts, "outcome="+e.Outcome)
		}
		if len(e.Attrs) > 0 {
			b, _ := json.Marshal(e.Attrs)
			parts = append(parts, string(b))
		}

		if _, err := fmt.Fprintln(w, strings.Join(parts, " ")); err != nil {
			return fmt.Errorf("failed to write text entry: %w", err)
		}
	}
	return nil
}

func exportCSV(w io.Writer, entries []LogEntry) error {
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "level", "component", "tick", "message", "outcome", "attrs"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		attrs := ""
		if len(e.Attrs) > 0 {
			if b, err := json.Marshal(e.Attrs); err == nil {
				attrs = string(b)
			}
		}
		tick := ""
		if e.Tick > 0 {
			tick = strconv.FormatUint(e.Tick, 10)
		}
		record := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			e.Level,
			e.Component,
			tick,
			e.Message,
			e.Outcome,
			attrs,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
