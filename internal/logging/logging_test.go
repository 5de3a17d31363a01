package logging

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNew_TextToFallback(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("[server] hidden")
	logger.Warn("[server] shown", "file", "abc")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "file=abc")
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(Options{Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("[engine] tick", "cursors", 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "[engine] tick", rec["msg"])
	assert.EqualValues(t, 1, rec["cursors"])

	_, _, err = New(Options{Format: "xml"}, &buf)
	require.Error(t, err)
}

func TestNew_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "behaviord.log")
	logger, closer, err := New(Options{File: path}, nil)
	require.NoError(t, err)
	logger.Info("[server] started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[server] started")
}

func TestNew_RelativeFileUnderAssetDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, closer, err := New(Options{File: "serve.log", Dir: dir}, nil)
	require.NoError(t, err)
	logger.Info("[host] ticking")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, ".behaviord", "serve.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[host] ticking")
}

func TestFilePath(t *testing.T) {
	t.Parallel()

	abs := filepath.Join(t.TempDir(), "x.log")
	assert.Equal(t, abs, FilePath("assets", abs))
	assert.Equal(t, "x.log", FilePath("", "x.log"))
	assert.Equal(t, filepath.Join("assets", ".behaviord", "x.log"), FilePath("assets", "x.log"))
}

func TestBackupPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("logs", "serve.1.log"), BackupPath(filepath.Join("logs", "serve.log"), 1))
	assert.Equal(t, "serve.12", BackupPath("serve", 12))
}

func TestFileWriter_Rolls(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.log")
	w, err := openFile(path, 10, 2)
	require.NoError(t, err)
	defer w.Close()

	for _, chunk := range []string{"aaaaaaaa", "bbbbbbbb", "cccccccc", "dddddddd"} {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	read := func(p string) string {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "dddddddd", read(path))
	assert.Equal(t, "cccccccc", read(BackupPath(path, 1)))
	assert.Equal(t, "bbbbbbbb", read(BackupPath(path, 2)))
	assert.NoFileExists(t, BackupPath(path, 3))
}

func TestFileWriter_AppendsToExisting(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0644))

	w, err := openFile(path, 6, 1)
	require.NoError(t, err)
	_, err = w.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))
	data, err = os.ReadFile(BackupPath(path, 1))
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
}

func TestFileWriter_NoBackups(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "serve.log")
	w, err := openFile(path, 4, 0)
	require.NoError(t, err)

	_, err = w.Write([]byte("one\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.Write([]byte("three\n"))
	require.ErrorIs(t, err, fs.ErrClosed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(data))
	assert.NoFileExists(t, BackupPath(path, 1))
}
