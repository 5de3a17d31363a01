package command

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"strings"
	"testing"
)

type testCommand struct {
	*BaseCommand
	verbose bool
	args    []string
}

func newTestCommand(name string) *testCommand {
	return &testCommand{BaseCommand: NewBaseCommand(name, "Test command", name+" [options]")}
}

func (c *testCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.verbose, "verbose", false, "Verbose output")
}

func (c *testCommand) Execute(args []string, stdout, stderr io.Writer) error {
	c.args = args
	return nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	registry.Register(newTestCommand("zeta"))
	registry.Register(newTestCommand("alpha"))

	cmd, err := registry.Get("alpha")
	if err != nil {
		t.Fatalf("Failed to get registered command: %v", err)
	}
	if cmd.Name() != "alpha" {
		t.Errorf("Expected command name 'alpha', got '%s'", cmd.Name())
	}
	if _, err := registry.Get("nonexistent"); err == nil {
		t.Error("Expected error for non-existent command, got nil")
	}
	if got := strings.Join(registry.List(), ","); got != "alpha,zeta" {
		t.Errorf("Expected sorted names, got %s", got)
	}
}

func TestRegistry_Run(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	cmd := newTestCommand("probe")
	registry.Register(cmd)
	registry.Register(NewHelpCommand(registry))

	var stdout, stderr bytes.Buffer
	if err := registry.Run([]string{"probe", "-verbose", "a", "b"}, &stdout, &stderr); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !cmd.verbose || strings.Join(cmd.args, " ") != "a b" {
		t.Errorf("flags not parsed: verbose=%v args=%v", cmd.verbose, cmd.args)
	}

	stdout.Reset()
	if err := registry.Run(nil, &stdout, &stderr); err != nil {
		t.Fatalf("Run with no args returned error: %v", err)
	}
	if !strings.Contains(stdout.String(), "probe") {
		t.Errorf("help output missing command list:\n%s", stdout.String())
	}

	stderr.Reset()
	err := registry.Run([]string{"probe", "-h"}, &stdout, &stderr)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("Expected flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(stderr.String(), "Usage: behaviord probe [options]") {
		t.Errorf("unexpected usage output:\n%s", stderr.String())
	}

	if err := registry.Run([]string{"missing"}, &stdout, &stderr); err == nil {
		t.Error("Expected error for unknown command")
	}
}
