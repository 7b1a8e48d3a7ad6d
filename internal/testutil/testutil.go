// Package testutil provides fixtures shared by qscaler tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

// ProgramConf returns a supervisord program section with the given
// numprocs value.
func ProgramConf(numprocs int) string {
	return fmt.Sprintf(`; managed by qscaler
[program:worker]
command=/usr/local/bin/worker --queue jobs
process_name=%%(program_name)s_%%(process_num)02d
numprocs=%d
numprocs_start=0
autostart=true
autorestart=true
stopwaitsecs=30
`, numprocs)
}

// WriteProgramConf writes content to worker.conf in a fresh temp directory
// and returns its path.
func WriteProgramConf(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "worker.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write program config: %v", err)
	}
	return path
}

// MemProgramConf writes content to path on an in-memory filesystem.
func MemProgramConf(t *testing.T, path, content string) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write program config: %v", err)
	}
	return fs
}

// ReadFile returns the content of path on fs, failing the test on error.
func ReadFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// FakeRunner records commands instead of running them. Failures can be
// scripted per command line.
type FakeRunner struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error
	outputs  map[string]string
}

// NewFakeRunner creates a FakeRunner where every command succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		failures: make(map[string]error),
		outputs:  make(map[string]string),
	}
}

// FailOn makes every command whose line ends with suffix fail with err and
// print output.
func (f *FakeRunner) FailOn(suffix string, output string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[suffix] = err
	f.outputs[suffix] = output
}

// Run records the command and returns the scripted result.
func (f *FakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	line := strings.Join(append([]string{name}, args...), " ")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)
	for suffix, err := range f.failures {
		if strings.HasSuffix(line, suffix) {
			return []byte(f.outputs[suffix]), err
		}
	}
	return nil, nil
}

// Calls returns the recorded command lines in order.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
