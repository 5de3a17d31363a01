// Package storage holds the on-disk primitives used for behavior assets:
// crash-safe writes and an exclusive lock on the assets directory.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

// ErrWouldBlock is returned by AcquireLock when another process holds the
// lock.
var ErrWouldBlock = errors.New("storage: lock held by another process")

// testHookCrashBeforeRename simulates a crash between writing the temp file
// and renaming it.
var testHookCrashBeforeRename func()

// RenameError wraps a failed rename with the temporary file path.
type RenameError struct {
	Err      error
	tempPath string
}

func (e RenameError) Error() string    { return e.Err.Error() }
func (e RenameError) TempPath() string { return e.tempPath }
func (e RenameError) Unwrap() error    { return e.Err }

// AtomicWriteFile writes data to a temporary file in the target directory
// and renames it over filename, so readers see either the old or the new
// content.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-behavior-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	var success bool
	defer func() {
		if !success {
			if err := os.Remove(tempFile.Name()); err != nil && !os.IsNotExist(err) {
				slog.Warn("[storage] failed to remove temporary file", "path", tempFile.Name(), "error", err)
			}
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file %q: %w", tempFile.Name(), err)
	}
	if err := os.Chmod(tempFile.Name(), perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if testHookCrashBeforeRename != nil {
		testHookCrashBeforeRename()
	}

	var renameErr error
	if runtime.GOOS == "windows" {
		renameErr = atomicRenameWindows(tempFile.Name(), filename)
	} else {
		renameErr = os.Rename(tempFile.Name(), filename)
	}
	if renameErr != nil {
		return RenameError{Err: renameErr, tempPath: tempFile.Name()}
	}
	success = true
	return nil
}

// Lock is an exclusive advisory lock backed by a file.
type Lock struct {
	file *os.File
}

// LockName is the file AcquireDirLock creates inside a directory.
const LockName = ".behaviord.lock"

// AcquireLock takes an exclusive, non-blocking lock on path, creating the
// file if needed. It returns ErrWouldBlock if the lock is held elsewhere.
func AcquireLock(path string) (*Lock, error) {
	f, err := acquireFileLock(path)
	if err != nil {
		return nil, err
	}
	return &Lock{file: f}, nil
}

// AcquireDirLock locks dir for a single server process.
func AcquireDirLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return AcquireLock(filepath.Join(dir, LockName))
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Release unlocks and removes the lock file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	return releaseFileLock(f)
}
