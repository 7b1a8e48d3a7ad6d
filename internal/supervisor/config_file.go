package supervisor

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/qscaler/internal/errors"
)

// DefaultSetting is the supervisor program key holding the worker count.
const DefaultSetting = "numprocs"

// FileOption configures a ConfigFile.
type FileOption func(*ConfigFile)

// WithFs sets the filesystem the file lives on. Defaults to the OS filesystem.
func WithFs(fsys afero.Fs) FileOption {
	return func(c *ConfigFile) { c.fs = fsys }
}

// WithSetting changes the key that holds the worker count.
func WithSetting(name string) FileOption {
	return func(c *ConfigFile) { c.setting = name }
}

// ConfigFile reads and rewrites the worker-count line of a supervisor program
// configuration. Every other byte of the file is left untouched.
type ConfigFile struct {
	fs      afero.Fs
	path    string
	setting string
	pattern *regexp.Regexp
}

// NewConfigFile returns a ConfigFile for path.
func NewConfigFile(path string, opts ...FileOption) *ConfigFile {
	c := &ConfigFile{
		fs:      afero.NewOsFs(),
		path:    path,
		setting: DefaultSetting,
	}
	for _, opt := range opts {
		opt(c)
	}
	// prefix, value, trailing blanks or an inline ";" comment
	c.pattern = regexp.MustCompile(`^([ \t]*` + regexp.QuoteMeta(c.setting) + `[ \t]*=[ \t]*)([^\s;]*)([ \t]*(?:;.*)?)$`)
	return c
}

// Path returns the file's path.
func (c *ConfigFile) Path() string {
	return c.path
}

// Setting returns the key holding the worker count.
func (c *ConfigFile) Setting() string {
	return c.setting
}

// settingLine is one line of the file split around its value.
type settingLine struct {
	prefix, value, suffix string
}

// parseLine splits a line (without its terminator) if it is a setting line.
func (c *ConfigFile) parseLine(line string) (settingLine, bool) {
	m := c.pattern.FindStringSubmatch(line)
	if m == nil {
		return settingLine{}, false
	}
	return settingLine{prefix: m[1], value: m[2], suffix: m[3]}, true
}

// parseCount accepts non-negative decimal integers only.
func parseCount(value string) (int, bool) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || strings.HasPrefix(value, "+") {
		return 0, false
	}
	return n, true
}

// splitLines splits data after each "\n", keeping terminators so the file
// can be reassembled byte for byte.
func splitLines(data string) []string {
	lines := strings.SplitAfter(data, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// cutTerminator separates a line's "\n" or "\r\n" from its content.
func cutTerminator(line string) (body, term string) {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return line[:len(line)-2], "\r\n"
	case strings.HasSuffix(line, "\n"):
		return line[:len(line)-1], "\n"
	default:
		return line, ""
	}
}

// ReadCount returns the value of the first setting line holding a
// non-negative integer. Setting lines with unparsable values are skipped.
func (c *ConfigFile) ReadCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return 0, errors.NewStoreError("read", c.path, err)
	}

	for _, line := range splitLines(string(data)) {
		body, _ := cutTerminator(line)
		sl, ok := c.parseLine(body)
		if !ok {
			continue
		}
		if n, ok := parseCount(sl.value); ok {
			return n, nil
		}
	}

	return 0, errors.NewNotFoundError("setting", c.setting).WithCause(errors.ErrSettingNotFound)
}

// WriteCount sets every setting line to n and atomically replaces the file.
// A file without any setting line is left alone and reported as not found.
func (c *ConfigFile) WriteCount(ctx context.Context, n int) error {
	if n < 0 {
		return errors.NewValidationError("must be non-negative").WithField(c.setting).WithValue(n)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return errors.NewStoreError("read", c.path, err)
	}

	value := strconv.Itoa(n)
	lines := splitLines(string(data))
	replaced := 0
	for i, line := range lines {
		body, term := cutTerminator(line)
		sl, ok := c.parseLine(body)
		if !ok {
			continue
		}
		lines[i] = sl.prefix + value + sl.suffix + term
		replaced++
	}
	if replaced == 0 {
		return errors.NewNotFoundError("setting", c.setting).WithCause(errors.ErrSettingNotFound)
	}

	return c.replace([]byte(strings.Join(lines, "")))
}

// replace writes data to a sibling temp file and renames it over the
// original, so readers see either the old or the new file.
func (c *ConfigFile) replace(data []byte) (err error) {
	mode := fs.FileMode(0o644)
	if info, statErr := c.fs.Stat(c.path); statErr == nil {
		mode = info.Mode().Perm()
	}

	dir, base := filepath.Split(c.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := afero.TempFile(c.fs, dir, "."+base+".tmp-*")
	if err != nil {
		return errors.NewStoreError("write", c.path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = c.fs.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.NewStoreError("write", c.path, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.NewStoreError("write", c.path, err)
	}
	if err = tmp.Close(); err != nil {
		return errors.NewStoreError("write", c.path, err)
	}
	if err = c.fs.Chmod(tmpName, mode); err != nil {
		return errors.NewStoreError("write", c.path, err)
	}
	if err = c.fs.Rename(tmpName, c.path); err != nil {
		return errors.NewStoreError("write", c.path, fmt.Errorf("replace: %w", err))
	}
	return nil
}
