package command

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/joeycumines/behaviord/internal/config"
)

func writeBehavior(t *testing.T, dir, name string, doc *behavior.Document) string {
	t.Helper()
	data, err := behavior.Encode(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name+".bht.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func quietConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.SetGlobalOption("log.level", "error")
	return cfg
}

func TestRunCommand_Success(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeBehavior(t, dir, "leaf", &behavior.Document{Root: behavior.NewBehavior("leaf", &behavior.Debug{Message: "leaf"})})
	path := writeBehavior(t, dir, "patrol", &behavior.Document{Root: behavior.NewBehavior("root", &behavior.Sequence{},
		behavior.NewBehavior("walk", &behavior.Debug{Message: "walk", Repeat: 2}),
		behavior.NewBehavior("sub", &behavior.Subtree{Asset: "leaf"}),
	)})

	var stdout, stderr bytes.Buffer
	cmd := NewRunCommand(quietConfig())
	require.NoError(t, cmd.Execute([]string{path}, &stdout, &stderr), stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "root (Sequence)")
	assert.Contains(t, out, "walk (Debug)")
	assert.Contains(t, out, "leaf")
	assert.Regexp(t, `patrol: success after \d+ ticks`, out)
}

func TestRunCommand_Failure(t *testing.T) {
	t.Parallel()
	path := writeBehavior(t, t.TempDir(), "doomed", &behavior.Document{Root: behavior.NewBehavior("root", &behavior.Sequence{},
		behavior.NewBehavior("boom", &behavior.Debug{Message: "boom", Fail: true}),
		behavior.NewBehavior("never", &behavior.Debug{Message: "never"}),
	)})

	var stdout, stderr bytes.Buffer
	cmd := NewRunCommand(quietConfig())
	cmd.quiet = true
	err := cmd.Execute([]string{path}, &stdout, &stderr)
	require.ErrorIs(t, err, ErrTreeFailed)
	assert.Regexp(t, `^doomed: failure after \d+ ticks`, stdout.String())
	assert.NotContains(t, stdout.String(), "never")
}

func TestRunCommand_MaxTicks(t *testing.T) {
	t.Parallel()
	path := writeBehavior(t, t.TempDir(), "slow", &behavior.Document{Root: behavior.NewBehavior("wait", &behavior.Wait{Duration: 3600})})

	cfg := quietConfig()
	cfg.SetCommandOption("run", "run.max-ticks", "5")
	var stdout, stderr bytes.Buffer
	err := NewRunCommand(cfg).Execute([]string{path}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish within 5 ticks")
}

func TestRunCommand_BadInput(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.bht.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("root: [unterminated"), 0644))

	var stdout, stderr bytes.Buffer
	cmd := NewRunCommand(quietConfig())
	require.Error(t, cmd.Execute(nil, &stdout, &stderr))
	require.Error(t, cmd.Execute([]string{filepath.Join(dir, "missing.bht.yaml")}, &stdout, &stderr))
	require.Error(t, cmd.Execute([]string{broken}, &stdout, &stderr))

	cmd.evalMode = "lua"
	require.ErrorContains(t, cmd.Execute([]string{broken}, &stdout, &stderr), "unknown property language")
}
