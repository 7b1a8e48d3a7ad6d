// Package logging provides structured JSON logging for qscaler.
//
// The [Logger] wraps log/slog with persistent attributes. The control loop
// tags its lines with a component and a tick number, so every tick leaves
// one summary line that can be read back later:
//
//	{"time":"...","level":"INFO","msg":"tick","component":"scaler","tick":42,"outcome":"applied","previous":4,"target":6}
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/qscaler.log", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	tickLog := logger.WithComponent("scaler").WithTick(42)
//	tickLog.Info("tick", "outcome", "applied")
//
// An empty path logs to stderr. [NewWriterLogger] writes to any io.Writer
// and [NopLogger] discards everything, which is what tests use.
//
// # Log Rotation
//
// [RotatingWriter] rotates the file once it would grow past MaxSizeMB.
// Rotated files are named qscaler.log.1 (newest) through qscaler.log.N and
// are gzipped when Compress is set.
//
// # Reading Logs Back
//
// [AggregateLogs] loads the live file and its backups, [FilterLogs] narrows
// them (level, time range, component, outcome) and [ExportLogEntries] renders
// them as text, JSON or CSV. The "qscaler logs" command is built on these.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
package logging
