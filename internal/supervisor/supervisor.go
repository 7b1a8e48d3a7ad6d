// Package supervisor owns the persisted worker count: the numprocs line of a
// supervisord program configuration, and the reload that makes supervisord
// act on it.
package supervisor

import (
	"context"

	"github.com/Iron-Ham/qscaler/internal/logging"
)

// Store is the narrow contract the control loop needs from the supervisor.
type Store interface {
	// ReadCount returns the persisted worker count.
	ReadCount(ctx context.Context) (int, error)
	// WriteCount persists a new worker count without reloading.
	WriteCount(ctx context.Context, n int) error
	// Reload makes supervisord apply the persisted configuration.
	Reload(ctx context.Context) error
}

// Supervisor implements Store on top of a program configuration file and a
// supervisorctl reloader.
type Supervisor struct {
	file     *ConfigFile
	reloader *Reloader
	logger   *logging.Logger
}

var _ Store = (*Supervisor)(nil)

// New creates a Supervisor. A nil logger discards output.
func New(file *ConfigFile, reloader *Reloader, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Supervisor{
		file:     file,
		reloader: reloader,
		logger:   logger.WithComponent("supervisor"),
	}
}

// File returns the underlying configuration file.
func (s *Supervisor) File() *ConfigFile {
	return s.file
}

// Reloader returns the underlying reloader.
func (s *Supervisor) Reloader() *Reloader {
	return s.reloader
}

// ReadCount implements Store.
func (s *Supervisor) ReadCount(ctx context.Context) (int, error) {
	return s.file.ReadCount(ctx)
}

// WriteCount implements Store.
func (s *Supervisor) WriteCount(ctx context.Context, n int) error {
	if err := s.file.WriteCount(ctx, n); err != nil {
		return err
	}
	s.logger.Debug("worker count written", "path", s.file.Path(), "setting", s.file.Setting(), "count", n)
	return nil
}

// Reload implements Store.
func (s *Supervisor) Reload(ctx context.Context) error {
	if err := s.reloader.Reload(ctx); err != nil {
		return err
	}
	s.logger.Debug("supervisor reloaded")
	return nil
}
