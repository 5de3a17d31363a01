package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "patrol.bt.yaml")

	require.NoError(t, AtomicWriteFile(path, []byte("root: {}\n"), 0644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "root: {}\n", string(data))

	require.NoError(t, AtomicWriteFile(path, []byte("root: []\n"), 0644))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "root: []\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestAtomicWriteFile_CrashKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patrol.bt.yaml")
	require.NoError(t, AtomicWriteFile(path, []byte("old"), 0644))

	testHookCrashBeforeRename = func() { panic("crash") }
	t.Cleanup(func() { testHookCrashBeforeRename = nil })

	assert.Panics(t, func() { _ = AtomicWriteFile(path, []byte("new"), 0644) })

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestAtomicWriteFile_RenameError(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(target, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep"), nil, 0644))

	err := AtomicWriteFile(target, []byte("x"), 0644)
	require.Error(t, err)
	var re RenameError
	require.ErrorAs(t, err, &re)
	assert.NotEmpty(t, re.TempPath())
	_, statErr := os.Stat(re.TempPath())
	assert.True(t, os.IsNotExist(statErr), "temp file removed on failure")
}

func TestAcquireDirLock(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireDirLock(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, LockName), lock.Path())

	_, err = AcquireDirLock(dir)
	require.ErrorIs(t, err, ErrWouldBlock)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
	_, err = os.Stat(filepath.Join(dir, LockName))
	assert.True(t, os.IsNotExist(err))

	again, err := AcquireDirLock(dir)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}
