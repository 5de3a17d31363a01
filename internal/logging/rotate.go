package logging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// FileWriter appends log records to a file and rolls it over once it reaches
// its size limit. Backups keep the file's extension, so serve.log rolls to
// serve.1.log, then serve.2.log, up to keep backups. A record is never split
// across files.
//
// FileWriter is safe for concurrent use.
type FileWriter struct {
	mu    sync.Mutex
	path  string
	limit int64
	keep  int
	size  int64
	file  *os.File
}

var _ io.WriteCloser = (*FileWriter)(nil)

// OpenFile opens path for appending, creating its directory if needed.
// limitMB is at least 1. keep == 0 discards the old contents on each roll.
func OpenFile(path string, limitMB, keep int) (*FileWriter, error) {
	return openFile(path, int64(max(limitMB, 1))<<20, keep)
}

func openFile(path string, limit int64, keep int) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	w := &FileWriter{path: path, limit: limit, keep: max(keep, 0)}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// BackupPath returns the name of the nth backup of path.
func BackupPath(path string, n int) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + strconv.Itoa(n) + ext
}

func (w *FileWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logging: %w", err)
	}
	w.file, w.size = f, info.Size()
	return nil
}

func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, fs.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.roll(); err != nil {
			return 0, fmt.Errorf("logging: roll %s: %w", w.path, err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file. Further writes fail.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// roll shifts every backup up by one, dropping the oldest, and reopens an
// empty file. w.mu must be held.
func (w *FileWriter) roll() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	var errs []error
	if w.keep == 0 {
		errs = append(errs, ignoreMissing(os.Remove(w.path)))
	} else {
		errs = append(errs, ignoreMissing(os.Remove(BackupPath(w.path, w.keep))))
		for n := w.keep - 1; n >= 1; n-- {
			errs = append(errs, ignoreMissing(os.Rename(BackupPath(w.path, n), BackupPath(w.path, n+1))))
		}
		errs = append(errs, ignoreMissing(os.Rename(w.path, BackupPath(w.path, 1))))
	}
	if err := w.open(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func ignoreMissing(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
