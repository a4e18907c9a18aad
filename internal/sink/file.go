// Package sink appends batches of text records to files named by routing key.
package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultName is used when the routing key is empty or unusable as a file name.
const DefaultName = "unlabeled"

// ErrWrite wraps every failure to persist a batch.
var ErrWrite = errors.New("sink: write failed")

// FileSink writes each batch to <dir>/<name><ext>, creating the file if
// needed and always appending.
type FileSink struct {
	dir string
	ext string
}

// NewFileSink creates the output directory and returns a sink rooted there.
func NewFileSink(dir, ext string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("sink: output directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("sink: create output directory: %w", err)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &FileSink{dir: dir, ext: ext}, nil
}

// Path returns the file that records for name are appended to.
func (s *FileSink) Path(name string) string {
	return filepath.Join(s.dir, FileName(name)+s.ext)
}

// Append writes lines to the file for name, one record per line. The file is
// closed before returning, including on a failed write. The first error
// encountered is returned wrapped in ErrWrite.
func (s *FileSink) Append(name string, lines []string) (err error) {
	if len(lines) == 0 {
		return nil
	}
	path := s.Path(name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrWrite, path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", ErrWrite, path, cerr)
		}
	}()

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, path, err)
	}

	slog.Debug("[SINK] appended", "path", path, "records", len(lines))
	return nil
}

// FileName maps a routing key to a single safe path element.
func FileName(key string) string {
	key = strings.TrimSpace(key)
	key = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, key)
	if key == "" || key == "." || key == ".." {
		return DefaultName
	}
	return key
}
