package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the size in megabytes past which the file is rotated.
	// Zero disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept next to the live one.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// DefaultRotationConfig returns the rotation settings used when none are
// configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// BackupPath returns the name of the n-th rotated file for path. Backup 1 is
// the most recent.
func BackupPath(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// RotatingWriter is an append-only file writer that rotates by size.
// It is safe for concurrent use.
type RotatingWriter struct {
	mu sync.Mutex

	path       string
	limit      int64
	maxBackups int
	compress   bool

	file *os.File
	size int64
}

// NewRotatingWriter opens (creating if needed) the file at path for
// appending. Parent directories are created.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		limit:      int64(cfg.MaxSizeMB) << 20,
		maxBackups: cfg.MaxBackups,
		compress:   cfg.Compress,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// open must be called with mu held or before rw is shared.
func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past the limit.
// A failed rotation is reported on stderr and the write goes to the current
// file so no log line is lost.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}

	if rw.limit > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "qscaler: log rotation failed: %v\n", err)
			if rw.file == nil {
				return 0, err
			}
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// rotate must be called with mu held.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	rw.shiftBackups()

	if rw.maxBackups > 0 {
		first := BackupPath(rw.path, 1)
		if err := os.Rename(rw.path, first); err != nil {
			if openErr := rw.open(); openErr != nil {
				return openErr
			}
			return fmt.Errorf("failed to rename log file: %w", err)
		}
		if rw.compress {
			if err := gzipFile(first); err != nil {
				fmt.Fprintf(os.Stderr, "qscaler: compressing %s: %v\n", first, err)
			}
		}
	} else if err := os.Remove(rw.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove log file: %w", err)
	}

	return rw.open()
}

// shiftBackups renames .N to .N+1 for every kept backup, dropping the oldest.
func (rw *RotatingWriter) shiftBackups() {
	if rw.maxBackups <= 0 {
		return
	}

	oldest := BackupPath(rw.path, rw.maxBackups)
	_ = os.Remove(oldest)
	_ = os.Remove(oldest + ".gz")

	for i := rw.maxBackups - 1; i >= 1; i-- {
		from, to := BackupPath(rw.path, i), BackupPath(rw.path, i+1)
		if _, err := os.Stat(from + ".gz"); err == nil {
			_ = os.Rename(from+".gz", to+".gz")
			continue
		}
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
}

// gzipFile replaces path with path.gz. The original is only removed once the
// compressed copy is complete.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path + ".gz")
		return err
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		_ = os.Remove(path + ".gz")
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path + ".gz")
		return err
	}
	return os.Remove(path)
}

// Sync flushes the current file to disk.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	return rw.file.Sync()
}

// Close syncs and closes the current file. Further writes fail.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	f := rw.file
	rw.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	return f.Close()
}

// Size returns the number of bytes in the live file.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// Path returns the live file's path.
func (rw *RotatingWriter) Path() string {
	return rw.path
}
